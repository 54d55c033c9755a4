package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *store.Store) {
	t.Helper()
	p, _, s, _ := newTestPipeline(t)
	h := NewHandler(p, NewSessionRegistry(nil), access.NewGuard(s))
	return h, echo.New(), s
}

func parentRequest(method, target, body, userID string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID, Role: "parent"}))
}

func call(t *testing.T, e *echo.Echo, fn echo.HandlerFunc, req *http.Request, params ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamValues(append(c.ParamValues(), params[i+1])...)
		c.SetParamNames(append(c.ParamNames(), params[i])...)
	}
	return rec, fn(c)
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHandler_GetSchema(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec, err := call(t, e, h.GetSchema, httptest.NewRequest(http.MethodGet, "/api/intake/schema", nil))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Steps []Step `json:"steps"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Steps) != 5 {
		t.Errorf("expected 5 steps, got %d", len(body.Steps))
	}
}

func TestHandler_SessionWalkthrough(t *testing.T) {
	h, e, s := newTestHandler(t)

	rec, err := call(t, e, h.OpenSession, parentRequest(http.MethodPost, "/api/intake/sessions", `{}`, "parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	id := decodeSession(t, rec).SessionID

	body := `{"fields":{"childName":"Emma","dateOfBirth":"2018-05-15","currentDiagnosis":"ASD","diagnosisDate":"2021-03-10"}}`
	rec, err = call(t, e, h.SetFields, parentRequest(http.MethodPut, "/", body, "parent-1"), "id", id)
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeSession(t, rec); got.Fields["childName"] != "Emma" || len(got.Visible) != 7 {
		t.Errorf("unexpected snapshot %+v", got)
	}

	for i := 0; i < 4; i++ {
		if _, err := call(t, e, h.Advance, parentRequest(http.MethodPost, "/", "", "parent-1"), "id", id); err != nil {
			t.Fatal(err)
		}
	}
	rec, _ = call(t, e, h.Advance, parentRequest(http.MethodPost, "/", "", "parent-1"), "id", id)
	if got := decodeSession(t, rec); !got.SubmitRequested || got.Step != 5 {
		t.Errorf("expected submit request on final step, got %+v", got)
	}

	rec, err = call(t, e, h.Save, parentRequest(http.MethodPost, "/", "", "parent-1"), "id", id)
	if err != nil {
		t.Fatal(err)
	}
	saved := decodeSession(t, rec)
	if saved.ChildID == "" || saved.IntakeFormID == "" {
		t.Fatalf("expected ids after save, got %+v", saved)
	}

	_, err = call(t, e, h.Submit, parentRequest(http.MethodPost, "/", "", "parent-1"), "id", id)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error without consent, got %v", err)
	}

	_, _ = call(t, e, h.SetFields, parentRequest(http.MethodPut, "/", `{"fields":{"consentConfirmed":true}}`, "parent-1"), "id", id)
	rec, err = call(t, e, h.Submit, parentRequest(http.MethodPost, "/", "", "parent-1"), "id", id)
	if err != nil {
		t.Fatal(err)
	}
	done := decodeSession(t, rec)
	if !done.IsCompleted || done.IntakeFormID == "" {
		t.Errorf("expected completed snapshot, got %+v", done)
	}

	child, _ := s.Children.Get(context.Background(), saved.ChildID)
	if child.CurrentDiagnosis == nil || *child.CurrentDiagnosis != "ASD" {
		t.Errorf("diagnosis not projected onto child")
	}

	rec, err = call(t, e, h.CloseSession, parentRequest(http.MethodDelete, "/", "", "parent-1"), "id", id)
	if err != nil || rec.Code != http.StatusNoContent {
		t.Errorf("close: %v %d", err, rec.Code)
	}
}

func TestHandler_RetreatAtFirstStep(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec, _ := call(t, e, h.OpenSession, parentRequest(http.MethodPost, "/", `{}`, "parent-1"))
	id := decodeSession(t, rec).SessionID

	rec, err := call(t, e, h.Retreat, parentRequest(http.MethodPost, "/", "", "parent-1"), "id", id)
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeSession(t, rec); got.Step != 1 {
		t.Errorf("expected step 1, got %d", got.Step)
	}
}

func TestHandler_SessionOfAnotherParent(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec, _ := call(t, e, h.OpenSession, parentRequest(http.MethodPost, "/", `{}`, "parent-1"))
	id := decodeSession(t, rec).SessionID

	_, err := call(t, e, h.GetSession, parentRequest(http.MethodGet, "/", "", "parent-2"), "id", id)
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_ResumeByChild(t *testing.T) {
	h, e, s := newTestHandler(t)
	ctx := context.Background()
	res, err := h.pipeline.Checkpoint(ctx, CheckpointInput{
		ParentID: "parent-1",
		Fields:   map[string]any{"childName": "Emma", "dateOfBirth": "2018-05-15"},
		Step:     3,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := call(t, e, h.OpenSession, parentRequest(http.MethodPost, "/", `{"childId":"`+res.ChildID+`"}`, "parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	got := decodeSession(t, rec)
	if got.Step != 3 || got.ChildID != res.ChildID || got.Fields["childName"] != "Emma" {
		t.Errorf("unexpected resumed snapshot %+v", got)
	}

	_, err = call(t, e, h.OpenSession, parentRequest(http.MethodPost, "/", `{"childId":"`+res.ChildID+`"}`, "parent-2"))
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden for another parent, got %v", err)
	}

	other := &store.Child{ParentID: "parent-1", Name: "Liam", DateOfBirth: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	_ = s.Children.Create(ctx, other)
	rec, err = call(t, e, h.OpenSession, parentRequest(http.MethodPost, "/", `{"childId":"`+other.ID+`"}`, "parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeSession(t, rec); got.ChildID != other.ID || got.Step != 1 {
		t.Errorf("child without a form should start fresh, got %+v", got)
	}
}

func TestHandler_IntakeFormsCRUD(t *testing.T) {
	h, e, s := newTestHandler(t)
	ctx := context.Background()
	child := &store.Child{ParentID: "parent-1", Name: "Emma", DateOfBirth: time.Date(2018, 5, 15, 0, 0, 0, 0, time.UTC)}
	_ = s.Children.Create(ctx, child)

	body := `{"childId":"` + child.ID + `","currentStep":2,"formData":{"childName":"Emma","dateOfBirth":"2018-05-15"}}`
	rec, err := call(t, e, h.CreateForm, parentRequest(http.MethodPost, "/api/intake-forms", body, "parent-1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created store.IntakeForm
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created.ID == "" || created.CurrentStep != 2 {
		t.Errorf("unexpected form %+v", created)
	}

	rec, err = call(t, e, h.UpdateForm, parentRequest(http.MethodPut, "/", `{"isCompleted":true,"formData":{"childName":"Emma","dateOfBirth":"2018-05-15","consentConfirmed":true}}`, "parent-1"), "id", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	var updated store.IntakeForm
	_ = json.Unmarshal(rec.Body.Bytes(), &updated)
	if !updated.IsCompleted || updated.CurrentStep != 5 {
		t.Errorf("expected completed form, got %+v", updated)
	}

	rec, err = call(t, e, h.GetFormByChild, parentRequest(http.MethodGet, "/", "", "parent-1"), "childId", child.ID)
	if err != nil || rec.Code != http.StatusOK {
		t.Fatalf("get by child: %v %d", err, rec.Code)
	}

	_, err = call(t, e, h.GetFormByChild, parentRequest(http.MethodGet, "/", "", "parent-2"), "childId", child.ID)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestHandler_CreateForm_MissingChild(t *testing.T) {
	h, e, _ := newTestHandler(t)
	_, err := call(t, e, h.CreateForm, parentRequest(http.MethodPost, "/", `{"formData":{}}`, "parent-1"))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
	_, err = call(t, e, h.CreateForm, parentRequest(http.MethodPost, "/", `{"childId":"nope"}`, "parent-1"))
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
