package documents

import (
	"context"
	"time"
)

// Repo defines persistence operations for documents. Every write is scoped to
// a single (userID, documentID) key.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, userID, documentID string) (Document, error)
	ListByProject(ctx context.Context, userID, projectID string, limit, offset int) ([]Document, error)
	CountActiveByProject(ctx context.Context, userID, projectID string) (int, error)
	Transition(ctx context.Context, userID, documentID string, t Transition) (Document, error)
	Reclaim(ctx context.Context, userID, documentID, staleToken, newToken string) (Document, error)
	ListStale(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Document, error)
}

func applyTransition(doc *Document, t Transition, now time.Time) {
	doc.Status = t.To
	if t.IncrementRetry {
		doc.RetryCount++
	}
	if t.PageCount != nil {
		doc.PageCount = *t.PageCount
	}
	if t.ErrorReason != nil {
		doc.ErrorReason = *t.ErrorReason
	}
	if t.To == StatusReady {
		doc.ErrorReason = ""
	}
	if t.ClaimToken != nil {
		doc.ClaimToken = *t.ClaimToken
		doc.ClaimedAt = time.Time{}
		if doc.ClaimToken != "" {
			doc.ClaimedAt = now
		}
	}
	doc.UpdatedAt = now
}
