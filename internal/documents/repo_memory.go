package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]map[string]Document // userId -> documentId -> document
	Now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]map[string]Document),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new document. The id must be unique within the user.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, ok := r.data[doc.UserID]
	if !ok {
		docs = make(map[string]Document)
		r.data[doc.UserID] = docs
	}
	if _, exists := docs[doc.ID]; exists {
		return ErrInvalidInput
	}
	docs[doc.ID] = doc
	return nil
}

// Get returns a document by id for a user.
func (r *MemoryRepo) Get(ctx context.Context, userID, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[userID][documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// ListByProject returns non-deleted documents of a project, oldest first.
func (r *MemoryRepo) ListByProject(ctx context.Context, userID, projectID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	var docs []Document
	for _, doc := range r.data[userID] {
		if doc.ProjectID == projectID && doc.Status != StatusDeleted {
			docs = append(docs, doc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})

	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// CountActiveByProject counts documents of a project that are not deleted.
func (r *MemoryRepo) CountActiveByProject(ctx context.Context, userID, projectID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, doc := range r.data[userID] {
		if doc.ProjectID == projectID && doc.Status != StatusDeleted {
			n++
		}
	}
	return n, nil
}

// Transition applies t if the stored status still equals t.From.
func (r *MemoryRepo) Transition(ctx context.Context, userID, documentID string, t Transition) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if !CanTransition(t.From, t.To) {
		return Document{}, ErrInvalidTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[userID][documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	if doc.Status != t.From || (t.RequireClaim != "" && doc.ClaimToken != t.RequireClaim) {
		return doc, ErrStaleStatus
	}
	applyTransition(&doc, t, r.Now())
	r.data[userID][documentID] = doc
	return doc, nil
}

// Reclaim hands a processing document to a new attempt while the stored
// claim still equals staleToken.
func (r *MemoryRepo) Reclaim(ctx context.Context, userID, documentID, staleToken, newToken string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if newToken == "" {
		return Document{}, ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[userID][documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	if doc.Status != StatusProcessing || doc.ClaimToken != staleToken {
		return doc, ErrStaleStatus
	}
	now := r.Now()
	doc.ClaimToken = newToken
	doc.ClaimedAt = now
	doc.UpdatedAt = now
	r.data[userID][documentID] = doc
	return doc, nil
}

// ListStale returns documents across users left in status since before updatedBefore.
func (r *MemoryRepo) ListStale(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Document
	for _, docs := range r.data {
		for _, doc := range docs {
			if doc.Status == status && doc.UpdatedAt.Before(updatedBefore) {
				out = append(out, doc)
			}
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
