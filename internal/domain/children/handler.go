package children

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
	api.GET("/children/:id", h.Get)
	api.GET("/children/parent/:parentId", h.ListByParent)

	parent := api.Group("", auth.RequireRole(string(store.RoleParent)))
	parent.POST("/children", h.Create)
	parent.PUT("/children/:id", h.Update)
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
	child, err := h.svc.Create(ctx, scope, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, child)
}

func (h *Handler) Update(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	child, err := h.svc.Update(ctx, scope, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, child)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	child, err := h.svc.Get(ctx, scope, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, child)
}

func (h *Handler) ListByParent(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	kids, err := h.svc.ListByParent(ctx, scope, c.Param("parentId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, kids)
}
