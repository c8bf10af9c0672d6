package vectors

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store using brute-force cosine similarity.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Chunk // userId/documentId -> chunks
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Chunk)}
}

func docKey(userID, documentID string) string {
	return userID + "/" + documentID
}

func (s *MemoryStore) Replace(ctx context.Context, userID, documentID string, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDimensions(chunks); err != nil {
		return err
	}
	copied := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.UserID = userID
		c.DocumentID = documentID
		c.Vector = append([]float32(nil), c.Vector...)
		copied[i] = c
	}
	sort.Slice(copied, func(i, j int) bool { return copied[i].Position < copied[j].Position })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[docKey(userID, documentID)] = copied
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, userID, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[docKey(userID, documentID)]), nil
}

func (s *MemoryStore) Search(ctx context.Context, userID string, documentIDs []string, query []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matches []Match
	for _, id := range documentIDs {
		for _, c := range s.data[docKey(userID, id)] {
			if len(c.Vector) != len(query) {
				s.mu.RUnlock()
				return nil, ErrDimensionMismatch
			}
			matches = append(matches, Match{Chunk: c, Score: cosine(query, c.Vector)})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, userID, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, docKey(userID, documentID))
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Store = (*MemoryStore)(nil)
