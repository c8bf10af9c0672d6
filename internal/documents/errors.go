package documents

import "errors"

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrProjectNotFound   = errors.New("project not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleStatus       = errors.New("document status changed concurrently")
)
