package conversations

import "time"

// Conversation references Ready documents of one project. Messages live in
// the memory session named by SessionID.
type Conversation struct {
	UserID      string
	ID          string
	ProjectID   string
	DocumentIDs []string
	SessionID   string
	CreatedAt   time.Time
}

// Source identifies a chunk an answer was grounded on.
type Source struct {
	DocumentID string
	FileName   string
	Page       int
}

// Reply is the assistant's answer to one prompt.
type Reply struct {
	Answer  string
	Sources []Source
}
