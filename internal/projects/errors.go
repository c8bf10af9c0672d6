package projects

import "errors"

var (
	ErrNotFound     = errors.New("project not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotEmpty     = errors.New("project still has documents or conversations")
)
