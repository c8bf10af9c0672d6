package queue

import (
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MessageVersion is the current payload schema version.
const MessageVersion = 1

// Message is the embedding job payload.
type Message struct {
	UserID     string `json:"userId" validate:"required"`
	DocumentID string `json:"documentId" validate:"required"`
	ObjectKey  string `json:"objectKey" validate:"required"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt,omitempty"`
	Version    int    `json:"version" validate:"gte=1"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func messageValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks required fields.
func (m Message) Validate() error {
	return messageValidator().Struct(m)
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
