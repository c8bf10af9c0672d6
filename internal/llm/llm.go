// Package llm defines the embedding and reply model contracts used by the
// ingestion worker and the conversation service.
package llm

import (
	"context"
	"errors"
)

// Embedder turns text into vectors. Implementations must return one vector
// per input, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Responder produces a grounded answer for one conversation turn.
type Responder interface {
	Respond(ctx context.Context, input ReplyInput) (string, error)
}

// Turn is one prior exchange in the conversation window.
type Turn struct {
	Role    string // "human", "ai" or "system"
	Content string
}

// Passage is a retrieved chunk offered to the model as context.
type Passage struct {
	FileName string
	Page     int
	Text     string
}

// ReplyInput carries everything a Responder needs for one answer.
type ReplyInput struct {
	Question  string
	FileNames []string
	History   []Turn
	Passages  []Passage
}

// ErrPermanent marks provider errors caused by the input itself, which fail
// the same way on every retry.
var ErrPermanent = errors.New("permanent model error")

// ErrNotConfigured is returned when a provider is selected without the
// settings it needs.
var ErrNotConfigured = errors.New("model provider not configured")
