package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/platform/apperr"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	svc, _, _ := newTestService(t, false)
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	h := NewHandler(svc)
	h.RegisterRoutes(e.Group("/api"))
	return h, e
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	_, e := newTestHandler(t)

	body := `{"username":"jane.doe","password":"correct-horse","role":"parent","name":"Jane Doe","email":"jane@example.com"}`
	rec := serve(e, http.MethodPost, "/api/auth/register", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "correct-horse") || strings.Contains(rec.Body.String(), "password") {
		t.Error("password material must never be returned")
	}

	rec = serve(e, http.MethodPost, "/api/auth/register", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", rec.Code)
	}
	var errBody apperr.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &errBody)
	if errBody.Message != "Username already exists" {
		t.Errorf("unexpected message %q", errBody.Message)
	}

	rec = serve(e, http.MethodPost, "/api/auth/login", `{"username":"jane.doe","password":"correct-horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sess struct {
		User  map[string]any `json:"user"`
		Token string         `json:"token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.Token == "" || sess.User["username"] != "jane.doe" {
		t.Errorf("unexpected login body %s", rec.Body.String())
	}
	id, _ := sess.User["id"].(string)

	rec = serve(e, http.MethodPost, "/api/auth/login", `{"username":"jane.doe","password":"nope-nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = serve(e, http.MethodGet, "/api/users/"+id, "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "password") {
		t.Errorf("get user: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/users/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_RegisterInvalid(t *testing.T) {
	_, e := newTestHandler(t)
	rec := serve(e, http.MethodPost, "/api/auth/register", `{"username":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body apperr.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Invalid registration data" || len(body.Errors) == 0 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_SwitchDisabled(t *testing.T) {
	_, e := newTestHandler(t)
	rec := serve(e, http.MethodPost, "/api/auth/switch", `{"role":"clinic"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
