package documents

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
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

// RegisterRoutes mounts the document routes. Documents are private to the
// child's parent.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(string(store.RoleParent)))
	g.GET("/documents/child/:childId", h.ByChild)
	g.POST("/documents", h.Create)
	g.POST("/documents/upload", h.Upload)
	g.GET("/documents/:id", h.Get)
	g.GET("/documents/:id/content", h.Content)
	g.PUT("/documents/:id", h.Update)
	g.DELETE("/documents/:id", h.Delete)
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
	var d store.Document
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.Create(ctx, scope, &d); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

// Upload accepts a multipart form with a "file" part plus childId and
// documentType fields.
func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return apperr.Validation("Invalid request data", apperr.FieldError{Field: "file", Message: "file is required"})
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	fileName := c.FormValue("fileName")
	if fileName == "" {
		fileName = file.Filename
	}
	doc, err := h.svc.Upload(ctx, scope, Upload{
		ChildID:      c.FormValue("childId"),
		DocumentType: c.FormValue("documentType"),
		FileName:     fileName,
		ContentType:  file.Header.Get(echo.HeaderContentType),
		Body:         src,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	doc, err := h.svc.Get(ctx, scope, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) Content(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	rc, doc, err := h.svc.Content(ctx, scope, c.Param("id"))
	if err != nil {
		return err
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, doc.FileName))
	return c.Stream(http.StatusOK, doc.FileType, rc)
}

func (h *Handler) Update(c echo.Context) error {
	var patch store.DocumentPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request data")
	}
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	doc, err := h.svc.Update(ctx, scope, c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.guard.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(ctx, scope, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
