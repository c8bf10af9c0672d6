// Package vectors stores document chunks with their embeddings and answers
// nearest-neighbour queries scoped to a set of documents.
package vectors

import (
	"context"
	"errors"
	"fmt"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// checkDimensions requires every vector of a chunk set to have the same,
// non-zero length.
func checkDimensions(chunks []Chunk) error {
	want := 0
	for _, c := range chunks {
		if want == 0 {
			want = len(c.Vector)
		}
		if len(c.Vector) == 0 || len(c.Vector) != want {
			return fmt.Errorf("%w: chunk %d has %d dimensions, want %d", ErrDimensionMismatch, c.Position, len(c.Vector), want)
		}
	}
	return nil
}

// Chunk is one embedded slice of a document's text.
type Chunk struct {
	UserID     string
	DocumentID string
	Position   int
	Page       int
	Content    string
	Vector     []float32
}

// Match is a search hit with its cosine similarity.
type Match struct {
	Chunk
	Score float32
}

// Store persists chunks. Replace swaps a document's whole chunk set so that a
// retried ingest never leaves duplicates behind.
type Store interface {
	Replace(ctx context.Context, userID, documentID string, chunks []Chunk) error
	Count(ctx context.Context, userID, documentID string) (int, error)
	Search(ctx context.Context, userID string, documentIDs []string, query []float32, k int) ([]Match, error)
	DeleteByDocument(ctx context.Context, userID, documentID string) error
}
