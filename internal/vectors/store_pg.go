package vectors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"docchat-backend/internal/shared/storage/db"
)

// PGStore keeps chunks in the document_chunks table using the pgvector extension.
type PGStore struct {
	DB *sql.DB
}

const pgDataException = "22000"

// dimensionError maps pgvector's dimension complaints to ErrDimensionMismatch.
func dimensionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDataException && strings.Contains(pgErr.Message, "dimensions") {
		return fmt.Errorf("%w: %s", ErrDimensionMismatch, pgErr.Message)
	}
	return err
}

// Replace deletes and rewrites the chunk set of a document in one transaction.
func (s *PGStore) Replace(ctx context.Context, userID, documentID string, chunks []Chunk) error {
	const insert = `
INSERT INTO document_chunks (user_id, document_id, position, page, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6)`

	if err := checkDimensions(chunks); err != nil {
		return err
	}
	return db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE user_id = $1 AND document_id = $2`, userID, documentID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, userID, documentID, c.Position, c.Page, c.Content, pgvector.NewVector(c.Vector)); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Position, dimensionError(err))
			}
		}
		return nil
	})
}

func (s *PGStore) Count(ctx context.Context, userID, documentID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE user_id = $1 AND document_id = $2`,
		userID, documentID,
	).Scan(&n)
	return n, err
}

// Search orders the chunks of the given documents by cosine distance to query.
func (s *PGStore) Search(ctx context.Context, userID string, documentIDs []string, query []float32, k int) ([]Match, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	args := []any{pgvector.NewVector(query), userID}
	placeholders := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	args = append(args, k)

	stmt := fmt.Sprintf(`
SELECT document_id, position, page, content, 1 - (embedding <=> $1) AS score
FROM document_chunks
WHERE user_id = $2 AND document_id IN (%s)
ORDER BY embedding <=> $1
LIMIT $%d`, strings.Join(placeholders, ", "), len(args))

	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, dimensionError(err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		m := Match{Chunk: Chunk{UserID: userID}}
		if err := rows.Scan(&m.DocumentID, &m.Position, &m.Page, &m.Content, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteByDocument(ctx context.Context, userID, documentID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM document_chunks WHERE user_id = $1 AND document_id = $2`, userID, documentID)
	return err
}

var _ Store = (*PGStore)(nil)
