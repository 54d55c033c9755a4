package intake

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

type Handler struct {
	pipeline *Pipeline
	registry *SessionRegistry
	guard    *access.Guard
}

func NewHandler(pipeline *Pipeline, registry *SessionRegistry, guard *access.Guard) *Handler {
	return &Handler{pipeline: pipeline, registry: registry, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/intake/schema", h.GetSchema)

	// Intake is filled in by parents only.
	parent := api.Group("", auth.RequireRole(string(store.RoleParent)))
	parent.POST("/intake/sessions", h.OpenSession)
	parent.GET("/intake/sessions/:id", h.GetSession)
	parent.PUT("/intake/sessions/:id/fields", h.SetFields)
	parent.POST("/intake/sessions/:id/advance", h.Advance)
	parent.POST("/intake/sessions/:id/retreat", h.Retreat)
	parent.POST("/intake/sessions/:id/save", h.Save)
	parent.POST("/intake/sessions/:id/submit", h.Submit)
	parent.DELETE("/intake/sessions/:id", h.CloseSession)

	parent.POST("/intake-forms", h.CreateForm)
	parent.PUT("/intake-forms/:id", h.UpdateForm)
	parent.GET("/intake-forms/child/:childId", h.GetFormByChild)
}

func (h *Handler) GetSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, h.pipeline.Schema())
}

// -- Server-held form sessions --

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	Snapshot
	SubmitRequested bool              `json:"submitRequested,omitempty"`
	IntakeForm      *store.IntakeForm `json:"intakeForm,omitempty"`
}

type openSessionRequest struct {
	ChildID string `json:"childId"`
}

type setFieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

func (h *Handler) OpenSession(c echo.Context) error {
	var req openSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	ownerID := auth.UserIDFromContext(ctx)

	form := NewForm(h.pipeline.Schema(), ownerID)
	if req.ChildID != "" {
		scope, err := h.guard.FromContext(ctx)
		if err != nil {
			return err
		}
		if _, err := h.guard.WriteChild(ctx, scope, req.ChildID); err != nil {
			return err
		}
		stored, err := h.pipeline.FormByChild(ctx, req.ChildID)
		switch {
		case err == nil:
			form = Resume(h.pipeline.Schema(), ownerID, stored)
		case apperr.IsNotFound(err):
			form.childID = req.ChildID
		default:
			return err
		}
	}

	sess := h.registry.Open(form)
	return c.JSON(http.StatusCreated, sessionResponse{SessionID: sess.ID, Snapshot: form.Snapshot()})
}

// withSession runs fn on the caller's session and renders the resulting
// snapshot.
func (h *Handler) withSession(c echo.Context, fn func(ctx context.Context, f *Form, resp *sessionResponse) error) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	resp := sessionResponse{SessionID: id}
	err := h.registry.With(ctx, id, auth.UserIDFromContext(ctx), func(ctx context.Context, f *Form) error {
		if err := fn(ctx, f, &resp); err != nil {
			return err
		}
		resp.Snapshot = f.Snapshot()
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSession(c echo.Context) error {
	return h.withSession(c, func(context.Context, *Form, *sessionResponse) error { return nil })
}

func (h *Handler) SetFields(c echo.Context) error {
	var req setFieldsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.withSession(c, func(_ context.Context, f *Form, _ *sessionResponse) error {
		return f.SetAll(req.Fields)
	})
}

func (h *Handler) Advance(c echo.Context) error {
	return h.withSession(c, func(_ context.Context, f *Form, resp *sessionResponse) error {
		err := f.Advance()
		if errors.Is(err, ErrSubmitRequested) {
			resp.SubmitRequested = true
			return nil
		}
		return err
	})
}

func (h *Handler) Retreat(c echo.Context) error {
	return h.withSession(c, func(_ context.Context, f *Form, _ *sessionResponse) error {
		f.Retreat()
		return nil
	})
}

func (h *Handler) Save(c echo.Context) error {
	return h.withSession(c, func(ctx context.Context, f *Form, _ *sessionResponse) error {
		_, err := f.SaveProgress(ctx, h.pipeline)
		return err
	})
}

func (h *Handler) Submit(c echo.Context) error {
	return h.withSession(c, func(ctx context.Context, f *Form, resp *sessionResponse) error {
		out, err := f.Submit(ctx, h.pipeline)
		if err != nil {
			return err
		}
		resp.IntakeForm = out
		return nil
	})
}

func (h *Handler) CloseSession(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.registry.Close(c.Param("id"), auth.UserIDFromContext(ctx)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Intake form records --

func (h *Handler) CreateForm(c echo.Context) error {
	var f store.IntakeForm
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := h.checkChild(ctx, f.ChildID); err != nil {
		return err
	}
	f.ID = ""
	out, err := h.pipeline.CreateForm(ctx, &f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) UpdateForm(c echo.Context) error {
	var patch store.IntakeFormPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	cur, err := h.pipeline.GetForm(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.checkChild(ctx, cur.ChildID); err != nil {
		return err
	}
	out, err := h.pipeline.UpdateForm(ctx, cur.ID, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetFormByChild(c echo.Context) error {
	ctx := c.Request().Context()
	childID := c.Param("childId")
	if err := h.checkChild(ctx, childID); err != nil {
		return err
	}
	f, err := h.pipeline.FormByChild(ctx, childID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) checkChild(ctx context.Context, childID string) error {
	if childID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "childId is required")
	}
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = h.guard.WriteChild(ctx, scope, childID)
	return err
}
