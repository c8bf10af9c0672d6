package documents

import "time"

// Document is an uploaded file plus its lifecycle status and derived attributes.
// It is identified by (UserID, ID).
type Document struct {
	UserID         string
	ID             string
	ProjectID      string
	FileName       string
	MimeType       string
	FileSize       int64
	PageCount      int
	Status         Status
	RetryCount     int
	ErrorReason    string
	StorageKey     string
	StorageVersion string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// ClaimToken identifies the worker attempt holding a processing document.
	ClaimToken string
	ClaimedAt  time.Time
}

// Transition is a compare-and-set status change. The write only happens while
// the stored status still equals From.
type Transition struct {
	From           Status
	To             Status
	IncrementRetry bool
	PageCount      *int
	ErrorReason    *string
	// ClaimToken replaces the stored claim when set. An empty token releases it.
	ClaimToken *string
	// RequireClaim, when not empty, also requires the stored claim to match.
	RequireClaim string
}
