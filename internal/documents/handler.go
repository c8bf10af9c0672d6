package documents

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

const maxUploadSize = 25 << 20 // 25MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.PUT("/projects/:projectId/documents", h.upload)
	rg.POST("/projects/:projectId/documents", h.upload)
	rg.GET("/projects/:projectId/documents", h.list)
	rg.DELETE("/documents/:documentId", h.delete)
}

// RegisterStatusRoutes attaches the status poll route, which is served from a
// group with a looser rate limit.
func (h *Handler) RegisterStatusRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents/:documentId", h.get)
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	projectID := c.Param("projectId")
	c.Set("projectId", projectID)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileName, body, closeFn, ok := readUpload(c)
	if !ok {
		return
	}
	defer closeFn()

	doc, err := h.Svc.Upload(c.Request.Context(), userID, projectID, fileName, body)
	if err != nil {
		writeError(c, err, "failed to upload document")
		return
	}

	c.Set("documentId", doc.ID)
	c.Set("statusTransition", "->"+string(doc.Status))
	respond.JSON(c, http.StatusCreated, UploadResponse{DocumentID: doc.ID, Status: doc.Status})
}

// readUpload accepts either a multipart "file" field or a raw body named by
// the fileName query parameter or X-File-Name header.
func readUpload(c *gin.Context) (string, io.Reader, func(), bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
			return "", nil, nil, false
		}
		file, err := fileHeader.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
			return "", nil, nil, false
		}
		return fileHeader.Filename, file, func() { file.Close() }, true
	}

	fileName := strings.TrimSpace(c.Query("fileName"))
	if fileName == "" {
		fileName = strings.TrimSpace(c.GetHeader("X-File-Name"))
	}
	if fileName == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "fileName is required", nil)
		return "", nil, nil, false
	}
	return fileName, c.Request.Body, func() {}, true
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	documentID := c.Param("documentId")
	c.Set("documentId", documentID)

	doc, err := h.Svc.Get(c.Request.Context(), userID, documentID)
	if err != nil {
		writeError(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	projectID := c.Param("projectId")
	c.Set("projectId", projectID)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.ListByProject(c.Request.Context(), userID, projectID, limit, offset)
	if err != nil {
		writeError(c, err, "failed to list documents")
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}
	respond.OK(c, gin.H{"documents": resp})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	documentID := c.Param("documentId")
	c.Set("documentId", documentID)

	before, err := h.Svc.Delete(c.Request.Context(), userID, documentID)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			respond.Error(c, http.StatusConflict, "invalid_state", "document cannot be deleted while "+string(before.Status), gin.H{"status": before.Status})
			return
		}
		writeError(c, err, "failed to delete document")
		return
	}
	c.Set("statusTransition", "->"+string(StatusDeleted))
	respond.NoContent(c)
}

func writeError(c *gin.Context, err error, fallback string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrProjectNotFound):
		respond.Error(c, http.StatusNotFound, "project_not_found", "project not found", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleStatus):
		respond.Error(c, http.StatusConflict, "invalid_state", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
