package memory

import "context"

// Store persists session logs. Appends to one session are linearizable and
// keep append order.
type Store interface {
	// Create starts an empty session. Creating an existing session is a no-op.
	Create(ctx context.Context, sessionID string) error
	Append(ctx context.Context, sessionID string, msgs ...Message) error
	List(ctx context.Context, sessionID string) ([]Message, error)
	// Window returns the last n messages not flagged as examples.
	Window(ctx context.Context, sessionID string, n int) ([]Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
