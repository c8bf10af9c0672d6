package projects

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches project routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/projects", h.create)
	rg.GET("/projects", h.list)
	rg.GET("/projects/:projectId", h.get)
	rg.DELETE("/projects/:projectId", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	p, err := h.Svc.Create(c.Request.Context(), middleware.UserIDFromContext(c), req.ProjectName, req.Description)
	if err != nil {
		writeError(c, err, "failed to create project")
		return
	}
	respond.JSON(c, http.StatusCreated, toResponse(p))
}

func (h *Handler) list(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	page, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err, "failed to list projects")
		return
	}

	resp := ListResponse{Projects: make([]ProjectResponse, 0, len(page.Projects)), NextCursor: page.NextCursor}
	for _, p := range page.Projects {
		resp.Projects = append(resp.Projects, toResponse(p))
	}
	respond.OK(c, resp)
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("projectId"))
	if err != nil {
		writeError(c, err, "failed to fetch project")
		return
	}
	respond.OK(c, toResponse(p))
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("projectId")); err != nil {
		writeError(c, err, "failed to delete project")
		return
	}
	respond.NoContent(c)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "project_not_found", "project not found", nil)
	case errors.Is(err, ErrNotEmpty):
		respond.Error(c, http.StatusConflict, "project_not_empty", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
