package documents

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"docchat-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `user_id, id, project_id, file_name, mime_type, file_size, page_count, status, retry_count, error_reason, storage_key, storage_version, created_at, updated_at, claim_token, claimed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status string
	var errorReason sql.NullString
	var storageVersion sql.NullString
	var claimToken sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(
		&doc.UserID,
		&doc.ID,
		&doc.ProjectID,
		&doc.FileName,
		&doc.MimeType,
		&doc.FileSize,
		&doc.PageCount,
		&status,
		&doc.RetryCount,
		&errorReason,
		&doc.StorageKey,
		&storageVersion,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&claimToken,
		&claimedAt,
	); err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if errorReason.Valid {
		doc.ErrorReason = errorReason.String
	}
	if storageVersion.Valid {
		doc.StorageVersion = storageVersion.String
	}
	if claimToken.Valid {
		doc.ClaimToken = claimToken.String
	}
	if claimedAt.Valid {
		doc.ClaimedAt = claimedAt.Time
	}
	return doc, nil
}

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    user_id,
    id,
    project_id,
    file_name,
    mime_type,
    file_size,
    page_count,
    status,
    retry_count,
    storage_key,
    storage_version,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	var storageVersion sql.NullString
	if doc.StorageVersion != "" {
		storageVersion = sql.NullString{String: doc.StorageVersion, Valid: true}
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.UserID,
		doc.ID,
		doc.ProjectID,
		doc.FileName,
		doc.MimeType,
		doc.FileSize,
		doc.PageCount,
		string(doc.Status),
		doc.RetryCount,
		doc.StorageKey,
		storageVersion,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrInvalidInput
	}
	return err
}

// Get returns a document by id for a user.
func (r *PGRepo) Get(ctx context.Context, userID, documentID string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND id = $2`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, userID, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByProject returns non-deleted documents of a project, oldest first.
func (r *PGRepo) ListByProject(ctx context.Context, userID, projectID string, limit, offset int) ([]Document, error) {
	if offset < 0 {
		offset = 0
	}
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1 AND project_id = $2 AND status <> 'deleted'
ORDER BY created_at ASC, id ASC
LIMIT $3 OFFSET $4`

	rows, err := r.DB.QueryContext(ctx, query, userID, projectID, limitArg, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountActiveByProject counts documents of a project that are not deleted.
func (r *PGRepo) CountActiveByProject(ctx context.Context, userID, projectID string) (int, error) {
	const query = `SELECT COUNT(*) FROM documents WHERE user_id = $1 AND project_id = $2 AND status <> 'deleted'`
	var n int
	if err := r.DB.QueryRowContext(ctx, query, userID, projectID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Transition applies t with a single conditional UPDATE so concurrent writers
// on the same key serialize on the row.
func (r *PGRepo) Transition(ctx context.Context, userID, documentID string, t Transition) (Document, error) {
	if !CanTransition(t.From, t.To) {
		return Document{}, ErrInvalidTransition
	}

	query := `
UPDATE documents
SET status = $3,
    retry_count = retry_count + $4,
    page_count = COALESCE($5, page_count),
    error_reason = CASE WHEN $6 THEN NULL WHEN $7::text IS NOT NULL THEN $7 ELSE error_reason END,
    claim_token = CASE WHEN $10 THEN NULLIF($11::text, '') ELSE claim_token END,
    claimed_at = CASE WHEN NOT $10 THEN claimed_at WHEN $11::text = '' THEN NULL ELSE $8::timestamptz END,
    updated_at = $8
WHERE user_id = $1 AND id = $2 AND status = $9 AND ($12::text = '' OR claim_token = $12)
RETURNING ` + documentColumns

	increment := 0
	if t.IncrementRetry {
		increment = 1
	}
	var pageCount sql.NullInt64
	if t.PageCount != nil {
		pageCount = sql.NullInt64{Int64: int64(*t.PageCount), Valid: true}
	}
	var reason sql.NullString
	if t.ErrorReason != nil {
		reason = sql.NullString{String: *t.ErrorReason, Valid: true}
	}
	setClaim, claimToken := t.ClaimToken != nil, ""
	if setClaim {
		claimToken = *t.ClaimToken
	}

	doc, err := scanDocument(r.DB.QueryRowContext(
		ctx,
		query,
		userID,
		documentID,
		string(t.To),
		increment,
		pageCount,
		t.To == StatusReady,
		reason,
		time.Now().UTC(),
		string(t.From),
		setClaim,
		claimToken,
		t.RequireClaim,
	))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, err
	}

	current, getErr := r.Get(ctx, userID, documentID)
	if getErr != nil {
		return Document{}, getErr
	}
	return current, ErrStaleStatus
}

// Reclaim hands a processing document to a new attempt while the stored
// claim still equals staleToken. An empty staleToken matches a row with no claim.
func (r *PGRepo) Reclaim(ctx context.Context, userID, documentID, staleToken, newToken string) (Document, error) {
	if newToken == "" {
		return Document{}, ErrInvalidInput
	}
	query := `
UPDATE documents
SET claim_token = $3,
    claimed_at = $4,
    updated_at = $4
WHERE user_id = $1 AND id = $2 AND status = 'processing' AND COALESCE(claim_token, '') = $5
RETURNING ` + documentColumns

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, userID, documentID, newToken, time.Now().UTC(), staleToken))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, err
	}
	current, getErr := r.Get(ctx, userID, documentID)
	if getErr != nil {
		return Document{}, getErr
	}
	return current, ErrStaleStatus
}

// ListStale returns documents across users left in status since before updatedBefore.
func (r *PGRepo) ListStale(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3`

	rows, err := r.DB.QueryContext(ctx, query, string(status), updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

var _ Repo = (*PGRepo)(nil)
