package conversations

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Conversation // conversationId -> conversation
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Conversation)}
}

func clone(c Conversation) Conversation {
	c.DocumentIDs = append([]string(nil), c.DocumentIDs...)
	return c
}

func (r *MemoryRepo) Create(ctx context.Context, c Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[c.ID]; exists {
		return ErrInvalidInput
	}
	r.data[c.ID] = clone(c)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[conversationID]
	if !ok || c.UserID != userID {
		return Conversation{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) ListByProject(ctx context.Context, userID, projectID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Conversation, 0)
	for _, c := range r.data {
		if c.UserID == userID && c.ProjectID == projectID {
			out = append(out, clone(c))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) CountActiveByProject(ctx context.Context, userID, projectID string) (int, error) {
	list, err := r.ListByProject(ctx, userID, projectID)
	return len(list), err
}

func (r *MemoryRepo) Delete(ctx context.Context, userID, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[conversationID]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(r.data, conversationID)
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
