// Package memory keeps the ordered message log of each conversation session.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the speaker of a message.
type MessageType string

const (
	TypeHuman  MessageType = "human"
	TypeAI     MessageType = "ai"
	TypeSystem MessageType = "system"
)

var (
	ErrSessionNotFound = errors.New("memory session not found")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Message is one immutable entry in a session log.
type Message struct {
	Type               MessageType    `json:"type"`
	Content            string         `json:"content"`
	Example            bool           `json:"example"`
	AdditionalMetadata map[string]any `json:"additional_metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Validate checks the message type and content.
func (m Message) Validate() error {
	switch m.Type {
	case TypeHuman, TypeAI, TypeSystem:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}

func validSessionID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\x00")
}

// window keeps the last n non-example messages in append order.
func window(msgs []Message, n int) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Example {
			out = append(out, m)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
