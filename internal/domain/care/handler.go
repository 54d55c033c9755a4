package care

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

type Handler struct {
	svc   *Service
	guard *access.Guard
}

func NewHandler(svc *Service, guard *access.Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/clinics", h.ListClinics)
	api.GET("/clinics/user/:userId", h.ClinicByUser)

	clinic := api.Group("", auth.RequireRole(string(store.RoleClinic)))
	clinic.POST("/clinics", h.CreateClinic)
	clinic.PUT("/clinics/:id", h.UpdateClinic)

	// Sessions are scheduled by parents for their children or by clinics.
	parties := api.Group("", auth.RequireRole(string(store.RoleParent), string(store.RoleClinic)))
	parties.GET("/sessions/child/:childId", h.SessionsByChild)
	parties.GET("/sessions/clinic/:clinicId", h.SessionsByClinic)
	parties.GET("/sessions/clinic/:clinicId/today", h.TodaysSessions)
	parties.POST("/sessions", h.CreateSession)
	parties.PUT("/sessions/:id", h.UpdateSession)
}

func (h *Handler) ListClinics(c echo.Context) error {
	list, err := h.svc.ListClinics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) ClinicByUser(c echo.Context) error {
	clinic, err := h.svc.ClinicByUser(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, clinic)
}

func (h *Handler) CreateClinic(c echo.Context) error {
	var clinic store.Clinic
	if err := c.Bind(&clinic); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.CreateClinic(ctx, scope, &clinic); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, clinic)
}

func (h *Handler) UpdateClinic(c echo.Context) error {
	var patch store.ClinicPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	clinic, err := h.svc.UpdateClinic(ctx, scope, c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, clinic)
}

func (h *Handler) SessionsByChild(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	list, err := h.svc.SessionsByChild(ctx, scope, c.Param("childId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) SessionsByClinic(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	list, err := h.svc.SessionsByClinic(ctx, scope, c.Param("clinicId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) TodaysSessions(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	list, err := h.svc.TodaysSessions(ctx, scope, c.Param("clinicId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) CreateSession(c echo.Context) error {
	var sess store.Session
	if err := c.Bind(&sess); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.CreateSession(ctx, scope, &sess); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) UpdateSession(c echo.Context) error {
	var patch store.SessionPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	sess, err := h.svc.UpdateSession(ctx, scope, c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}
