package conversations

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("conversation not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrProjectNotFound  = errors.New("project not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentNotReady = errors.New("document not ready")
)

// NotReadyError lists the referenced documents that are not Ready.
type NotReadyError struct {
	DocumentIDs []string
}

func (e *NotReadyError) Error() string {
	return "document not ready: " + strings.Join(e.DocumentIDs, ", ")
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrDocumentNotReady
}
