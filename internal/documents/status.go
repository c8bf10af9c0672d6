package documents

import "strings"

// Status is a document lifecycle state.
type Status string

const (
	StatusUploaded     Status = "uploaded"
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
	StatusDeleted      Status = "deleted"
)

var transitions = map[Status][]Status{
	StatusUploaded:     {StatusQueued},
	StatusQueued:       {StatusProcessing},
	StatusProcessing:   {StatusReady, StatusFailed, StatusDeadLettered},
	StatusFailed:       {StatusQueued, StatusDeadLettered, StatusDeleted},
	StatusReady:        {StatusDeleted},
	StatusDeadLettered: {StatusDeleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusQueued, StatusProcessing, StatusReady, StatusFailed, StatusDeadLettered, StatusDeleted:
		return true
	}
	return false
}

// Deletable reports whether a user may delete a document in this status.
func (s Status) Deletable() bool {
	return CanTransition(s, StatusDeleted)
}

// ParseStatus maps a stored value to a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

func transitionLabel(from, to Status) string {
	return string(from) + "->" + string(to)
}
