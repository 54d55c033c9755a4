package claims

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
	"github.com/mia/mia/pkg/pagination"
)

type Handler struct {
	svc   *Service
	guard *access.Guard
}

func NewHandler(svc *Service, guard *access.Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/claims", h.List)
	api.GET("/claims/pending", h.Pending)
	api.GET("/claims/child/:childId", h.ByChild)
	api.PUT("/claims/:id", h.Update)

	parties := api.Group("", auth.RequireRole(string(store.RoleParent), string(store.RoleClinic)))
	parties.POST("/claims", h.Create)

	insurance := api.Group("", auth.RequireRole(string(store.RoleInsurance)))
	insurance.POST("/claims/:id/review", h.Review)
}

// List returns a page of the caller's claims. Use limit and offset query
// parameters.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	list, err := h.svc.List(ctx, scope)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	resp := pagination.NewResponse(pagination.Page(list, p), len(list), p.Limit, p.Offset)
	resp.Links = p.Links(c.Request().URL.Path, len(list))
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Pending(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	list, err := h.svc.Pending(ctx, scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) ByChild(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	list, err := h.svc.ByChild(ctx, scope, c.Param("childId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	claim, err := h.svc.Create(ctx, scope, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) Update(c echo.Context) error {
	var patch store.ClaimPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	claim, err := h.svc.Update(ctx, scope, c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) Review(c echo.Context) error {
	var d Decision
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	claim, err := h.svc.Review(ctx, scope, c.Param("id"), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, claim)
}
