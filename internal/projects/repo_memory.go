package projects

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]map[string]Project // userId -> projectId -> project
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]map[string]Project)}
}

// Create stores a new project.
func (r *MemoryRepo) Create(ctx context.Context, p Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.data[p.UserID]
	if !ok {
		byID = make(map[string]Project)
		r.data[p.UserID] = byID
	}
	if _, exists := byID[p.ID]; exists {
		return ErrInvalidInput
	}
	byID[p.ID] = p
	return nil
}

// Get returns a project for a user.
func (r *MemoryRepo) Get(ctx context.Context, userID, projectID string) (Project, error) {
	if err := ctx.Err(); err != nil {
		return Project{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.data[userID][projectID]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

// List returns projects in creation order after the cursor.
func (r *MemoryRepo) List(ctx context.Context, userID string, after *Cursor, limit int) ([]Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Project, 0, len(r.data[userID]))
	for _, p := range r.data[userID] {
		if after == nil || after.precedes(p) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a project.
func (r *MemoryRepo) Delete(ctx context.Context, userID, projectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[userID][projectID]; !ok {
		return ErrNotFound
	}
	delete(r.data[userID], projectID)
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
