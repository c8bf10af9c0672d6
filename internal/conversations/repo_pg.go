package conversations

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"docchat-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectConversation = `
SELECT c.id, c.user_id, c.project_id, c.session_id, c.created_at,
       COALESCE(string_agg(cd.document_id, ',' ORDER BY cd.position), '')
FROM conversations c
LEFT JOIN conversation_documents cd ON cd.conversation_id = c.id`

// Create inserts the conversation and its document references in one transaction.
func (r *PGRepo) Create(ctx context.Context, c Conversation) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, project_id, session_id, created_at)
VALUES ($1, $2, $3, $4, $5)`, c.ID, c.UserID, c.ProjectID, c.SessionID, c.CreatedAt)
		if db.IsUniqueViolation(err) {
			return ErrInvalidInput
		}
		if err != nil {
			return err
		}
		for i, docID := range c.DocumentIDs {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_documents (conversation_id, user_id, document_id, position)
VALUES ($1, $2, $3, $4)`, c.ID, c.UserID, docID, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PGRepo) Get(ctx context.Context, userID, conversationID string) (Conversation, error) {
	query := selectConversation + `
WHERE c.user_id = $1 AND c.id = $2
GROUP BY c.id`
	c, err := scanConversation(r.DB.QueryRowContext(ctx, query, userID, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return c, nil
}

func (r *PGRepo) ListByProject(ctx context.Context, userID, projectID string) ([]Conversation, error) {
	query := selectConversation + `
WHERE c.user_id = $1 AND c.project_id = $2
GROUP BY c.id
ORDER BY c.created_at ASC, c.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, userID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountActiveByProject(ctx context.Context, userID, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = $1 AND project_id = $2`,
		userID, projectID,
	).Scan(&n)
	return n, err
}

func (r *PGRepo) Delete(ctx context.Context, userID, conversationID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = $1 AND id = $2`, userID, conversationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var docs string
	if err := row.Scan(&c.ID, &c.UserID, &c.ProjectID, &c.SessionID, &c.CreatedAt, &docs); err != nil {
		return Conversation{}, err
	}
	if docs != "" {
		c.DocumentIDs = strings.Split(docs, ",")
	}
	return c, nil
}

var _ Repo = (*PGRepo)(nil)
