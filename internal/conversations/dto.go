package conversations

import (
	"fmt"
	"time"

	"docchat-backend/internal/memory"
)

type createRequest struct {
	ProjectID   string   `json:"projectId" binding:"required"`
	DocumentIDs []string `json:"documentIds" binding:"required,min=1,dive,required"`
}

type replyRequest struct {
	Content string `json:"content" binding:"required"`
}

type appendRequest struct {
	Type               string         `json:"type" binding:"required,oneof=human ai system"`
	Content            string         `json:"content" binding:"required"`
	Example            bool           `json:"example"`
	AdditionalMetadata map[string]any `json:"additionalMetadata"`
}

// ConversationResponse is the outward-facing representation of a conversation.
type ConversationResponse struct {
	ConversationID string    `json:"conversationId"`
	ProjectID      string    `json:"projectId"`
	DocumentIDs    []string  `json:"documentIds"`
	SessionID      string    `json:"sessionId"`
	CreatedAt      time.Time `json:"created"`
}

// MessageResponse is one memory session entry.
type MessageResponse struct {
	Type               memory.MessageType `json:"type"`
	Content            string             `json:"content"`
	Example            bool               `json:"example,omitempty"`
	AdditionalMetadata map[string]any     `json:"additionalMetadata,omitempty"`
	CreatedAt          time.Time          `json:"created"`
}

// SourceResponse names a page an answer drew on.
type SourceResponse struct {
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	Page       int    `json:"page"`
}

// ReplyResponse is the assistant's answer.
type ReplyResponse struct {
	Answer     string           `json:"answer"`
	Sources    []SourceResponse `json:"sources"`
	SourceInfo []string         `json:"sourceInfo"`
}

func toResponse(c Conversation) ConversationResponse {
	ids := c.DocumentIDs
	if ids == nil {
		ids = []string{}
	}
	return ConversationResponse{
		ConversationID: c.ID,
		ProjectID:      c.ProjectID,
		DocumentIDs:    ids,
		SessionID:      c.SessionID,
		CreatedAt:      c.CreatedAt,
	}
}

func toMessageResponse(m memory.Message) MessageResponse {
	return MessageResponse{
		Type:               m.Type,
		Content:            m.Content,
		Example:            m.Example,
		AdditionalMetadata: m.AdditionalMetadata,
		CreatedAt:          m.CreatedAt,
	}
}

func toReplyResponse(r Reply) ReplyResponse {
	resp := ReplyResponse{
		Answer:     r.Answer,
		Sources:    make([]SourceResponse, 0, len(r.Sources)),
		SourceInfo: make([]string, 0, len(r.Sources)),
	}
	for _, s := range r.Sources {
		resp.Sources = append(resp.Sources, SourceResponse{DocumentID: s.DocumentID, FileName: s.FileName, Page: s.Page})
		resp.SourceInfo = append(resp.SourceInfo, fmt.Sprintf("Page: %d", s.Page))
	}
	return resp
}
