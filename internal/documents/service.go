package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/requestid"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
)

// ProjectLookup checks that a project exists for a user.
type ProjectLookup interface {
	ProjectExists(ctx context.Context, userID, projectID string) (bool, error)
}

// DerivedDataRemover drops chunks and vectors derived from a document.
type DerivedDataRemover interface {
	DeleteByDocument(ctx context.Context, userID, documentID string) error
}

// Service contains business logic for documents.
type Service struct {
	Store    object.ObjectStore
	Repo     Repo
	Projects ProjectLookup
	Queue    queue.Client
	Derived  DerivedDataRemover
	Retry    retry.Policy
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) policy() retry.Policy {
	if s.Retry.MaxAttempts > 0 {
		return s.Retry
	}
	return retry.DefaultPolicy()
}

// Upload stores the bytes, records the document as uploaded and enqueues its
// embedding job. If the enqueue fails the document stays uploaded for the
// reconciliation sweep to pick up.
func (s *Service) Upload(ctx context.Context, userID, projectID, fileName string, r io.Reader) (Document, error) {
	userID = strings.TrimSpace(userID)
	projectID = strings.TrimSpace(projectID)
	if userID == "" || projectID == "" || r == nil {
		return Document{}, ErrInvalidInput
	}
	cleanName, err := object.CleanFileName(fileName)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.requireProject(ctx, userID, projectID); err != nil {
		return Document{}, err
	}

	docID := uuid.NewString()
	key, err := object.DocumentKey(userID, docID)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	put, err := s.Store.Put(ctx, key, "", r)
	if err != nil {
		return Document{}, fmt.Errorf("store document bytes: %w", err)
	}

	now := s.now()
	doc := Document{
		UserID:         userID,
		ID:             docID,
		ProjectID:      projectID,
		FileName:       cleanName,
		MimeType:       put.MimeType,
		FileSize:       put.Size,
		Status:         StatusUploaded,
		StorageKey:     key,
		StorageVersion: put.VersionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ambiguous := false
	if err := retry.Do(ctx, s.policy(), "documents.create", func(ctx context.Context) error {
		err := s.Repo.Create(ctx, doc)
		if errors.Is(err, ErrInvalidInput) {
			// A failed earlier attempt may still have committed the row.
			if ambiguous {
				if stored, getErr := s.Repo.Get(ctx, userID, docID); getErr == nil && stored.StorageKey == key {
					return nil
				}
			}
			return retry.Stop(err)
		}
		if err != nil {
			ambiguous = true
		}
		return err
	}); err != nil {
		s.discardBlob(ctx, doc)
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	metrics.IncDocumentsUploaded()

	queued, err := s.Enqueue(ctx, doc)
	if err != nil {
		telemetry.Error("document.enqueue_failed", map[string]any{
			"user_id":     userID,
			"document_id": docID,
			"request_id":  requestid.From(ctx),
			"error":       err.Error(),
		})
		return doc, nil
	}
	return queued, nil
}

// discardBlob removes the bytes of a document whose record could not be
// written. The bytes stay whenever a record with that id might exist.
func (s *Service) discardBlob(ctx context.Context, doc Document) {
	ctx = requestid.Detached(ctx)
	fields := map[string]any{
		"user_id":     doc.UserID,
		"document_id": doc.ID,
		"request_id":  requestid.From(ctx),
	}
	_, err := s.Repo.Get(ctx, doc.UserID, doc.ID)
	if !errors.Is(err, ErrNotFound) {
		if err != nil {
			fields["error"] = err.Error()
		}
		telemetry.Warn("document.blob_kept", fields)
		return
	}
	if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
		fields["error"] = err.Error()
		telemetry.Error("document.orphan_blob", fields)
	}
}

// Enqueue sends the embedding job for an uploaded document and then advances
// it to queued. A document already past uploaded is returned unchanged.
func (s *Service) Enqueue(ctx context.Context, doc Document) (Document, error) {
	if doc.Status != StatusUploaded {
		return doc, nil
	}
	if s.Queue == nil {
		return doc, errors.New("job queue not configured")
	}

	msg := queue.Message{
		UserID:     doc.UserID,
		DocumentID: doc.ID,
		ObjectKey:  doc.StorageKey,
		RequestID:  requestid.From(ctx),
		EnqueuedAt: s.now().Format(time.RFC3339),
		Version:    queue.MessageVersion,
	}
	if err := retry.Do(ctx, s.policy(), "queue.send", func(ctx context.Context) error {
		return s.Queue.Send(ctx, msg)
	}); err != nil {
		return doc, fmt.Errorf("enqueue document: %w", err)
	}

	updated, err := s.Repo.Transition(ctx, doc.UserID, doc.ID, Transition{From: StatusUploaded, To: StatusQueued})
	if errors.Is(err, ErrStaleStatus) {
		// A worker already picked the job up.
		return updated, nil
	}
	if err != nil {
		return doc, fmt.Errorf("mark queued: %w", err)
	}
	telemetry.Info("document.status", map[string]any{
		"user_id":           doc.UserID,
		"document_id":       doc.ID,
		"request_id":        msg.RequestID,
		"status_transition": transitionLabel(StatusUploaded, StatusQueued),
	})
	return updated, nil
}

// Get returns a document for a user.
func (s *Service) Get(ctx context.Context, userID, documentID string) (Document, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(documentID) == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, userID, documentID)
}

// ListByProject lists a project's live documents, oldest first.
func (s *Service) ListByProject(ctx context.Context, userID, projectID string, limit, offset int) ([]Document, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.requireProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.Repo.ListByProject(ctx, userID, projectID, limit, offset)
}

// Delete marks the document deleted, then removes derived data and bytes.
// Status goes first so no reader sees metadata pointing at missing bytes.
func (s *Service) Delete(ctx context.Context, userID, documentID string) (Document, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return Document{}, err
	}
	if !doc.Status.Deletable() {
		return doc, ErrInvalidTransition
	}

	deleted, err := s.Repo.Transition(ctx, userID, documentID, Transition{From: doc.Status, To: StatusDeleted})
	if err != nil {
		return doc, err
	}
	telemetry.Info("document.status", map[string]any{
		"user_id":           userID,
		"document_id":       documentID,
		"status_transition": transitionLabel(doc.Status, StatusDeleted),
	})

	cleanupCtx := requestid.Detached(ctx)
	if s.Derived != nil {
		if err := s.Derived.DeleteByDocument(cleanupCtx, userID, documentID); err != nil {
			telemetry.Error("document.derived_cleanup_failed", map[string]any{
				"user_id":     userID,
				"document_id": documentID,
				"error":       err.Error(),
			})
		}
	}
	if err := s.Store.Delete(cleanupCtx, doc.StorageKey); err != nil {
		telemetry.Error("document.blob_cleanup_failed", map[string]any{
			"user_id":     userID,
			"document_id": documentID,
			"error":       err.Error(),
		})
	}
	return deleted, nil
}

func (s *Service) requireProject(ctx context.Context, userID, projectID string) error {
	if s.Projects == nil {
		return nil
	}
	ok, err := s.Projects.ProjectExists(ctx, userID, projectID)
	if err != nil {
		return fmt.Errorf("lookup project: %w", err)
	}
	if !ok {
		return ErrProjectNotFound
	}
	return nil
}
