package conversations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/memory"
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

// RegisterRoutes attaches conversation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversations", h.create)
	rg.GET("/conversations/:conversationId", h.get)
	rg.DELETE("/conversations/:conversationId", h.delete)
	rg.GET("/conversations/:conversationId/messages", h.messages)
	rg.POST("/conversations/:conversationId/messages", h.reply)
	rg.POST("/conversations/:conversationId/history", h.appendMessage)
	rg.GET("/projects/:projectId/conversations", h.list)
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}
	conv, err := h.Svc.Create(c.Request.Context(), middleware.UserIDFromContext(c), req.ProjectID, req.DocumentIDs)
	if err != nil {
		writeError(c, err, "failed to create conversation")
		return
	}
	c.Set("conversationId", conv.ID)
	respond.JSON(c, http.StatusCreated, toResponse(conv))
}

func (h *Handler) get(c *gin.Context) {
	conv, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("conversationId"))
	if err != nil {
		writeError(c, err, "failed to fetch conversation")
		return
	}
	respond.OK(c, toResponse(conv))
}

func (h *Handler) list(c *gin.Context) {
	c.Set("projectId", c.Param("projectId"))
	convs, err := h.Svc.ListByProject(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("projectId"))
	if err != nil {
		writeError(c, err, "failed to list conversations")
		return
	}
	out := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toResponse(conv))
	}
	respond.OK(c, gin.H{"conversations": out})
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("conversationId")); err != nil {
		writeError(c, err, "failed to delete conversation")
		return
	}
	respond.NoContent(c)
}

func (h *Handler) messages(c *gin.Context) {
	msgs, err := h.Svc.Messages(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("conversationId"))
	if err != nil {
		writeError(c, err, "failed to fetch messages")
		return
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	respond.OK(c, gin.H{"messages": out})
}

func (h *Handler) reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}
	reply, err := h.Svc.Reply(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("conversationId"), req.Content)
	if err != nil {
		writeError(c, err, "failed to generate reply")
		return
	}
	respond.OK(c, toReplyResponse(reply))
}

func (h *Handler) appendMessage(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}
	msg, err := h.Svc.AppendMessage(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("conversationId"), memory.Message{
		Type:               memory.MessageType(req.Type),
		Content:            req.Content,
		Example:            req.Example,
		AdditionalMetadata: req.AdditionalMetadata,
	})
	if err != nil {
		writeError(c, err, "failed to append message")
		return
	}
	respond.JSON(c, http.StatusCreated, toMessageResponse(msg))
}

func writeError(c *gin.Context, err error, fallback string) {
	var notReady *NotReadyError
	switch {
	case errors.As(err, &notReady):
		respond.Error(c, http.StatusConflict, "document_not_ready", "documents are not ready", gin.H{"documentIds": notReady.DocumentIDs})
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrProjectNotFound):
		respond.Error(c, http.StatusNotFound, "project_not_found", "project not found", nil)
	case errors.Is(err, ErrDocumentNotFound):
		respond.Error(c, http.StatusNotFound, "document_not_found", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "conversation_not_found", "conversation not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
