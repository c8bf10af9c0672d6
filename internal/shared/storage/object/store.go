package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// PutResult describes a stored object version.
type PutResult struct {
	VersionID string
	Size      int64
	MimeType  string
}

// ObjectStore defines the contract for versioned blob storage of raw document bytes.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (PutResult, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Sniff peeks at the first bytes of r to detect a mime type when the caller
// did not supply one. The returned reader replays the peeked bytes.
func Sniff(r io.Reader, contentType string) (io.Reader, string, error) {
	var head [512]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, "", fmt.Errorf("read sniff: %w", err)
	}
	mimeType := strings.TrimSpace(contentType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(head[:n])
	}
	return io.MultiReader(bytes.NewReader(head[:n]), r), mimeType, nil
}
