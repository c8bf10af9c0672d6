package projects

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Project is a named grouping of documents and conversations owned by one user.
type Project struct {
	UserID      string
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Cursor is a position in the (CreatedAt, ID) listing order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

var errBadCursor = errors.New("malformed cursor")

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, errBadCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadCursor, err)
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// precedes reports whether c sorts strictly before p.
func (c Cursor) precedes(p Project) bool {
	if p.CreatedAt.Equal(c.CreatedAt) {
		return p.ID > c.ID
	}
	return p.CreatedAt.After(c.CreatedAt)
}
