package projects

import (
	"context"
	"database/sql"
	"errors"

	"docchat-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new project.
func (r *PGRepo) Create(ctx context.Context, p Project) error {
	const query = `
INSERT INTO projects (user_id, id, name, description, created_at)
VALUES ($1, $2, $3, $4, $5)`

	var description sql.NullString
	if p.Description != "" {
		description = sql.NullString{String: p.Description, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, query, p.UserID, p.ID, p.Name, description, p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrInvalidInput
	}
	return err
}

// Get returns a project for a user.
func (r *PGRepo) Get(ctx context.Context, userID, projectID string) (Project, error) {
	const query = `
SELECT user_id, id, name, description, created_at
FROM projects
WHERE user_id = $1 AND id = $2`

	p, err := scanProject(r.DB.QueryRowContext(ctx, query, userID, projectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	return p, nil
}

// List walks the (user_id, created_at, id) index after the cursor.
func (r *PGRepo) List(ctx context.Context, userID string, after *Cursor, limit int) ([]Project, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		const query = `
SELECT user_id, id, name, description, created_at
FROM projects
WHERE user_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2`
		rows, err = r.DB.QueryContext(ctx, query, userID, limit)
	} else {
		const query = `
SELECT user_id, id, name, description, created_at
FROM projects
WHERE user_id = $1 AND (created_at, id) > ($2, $3)
ORDER BY created_at ASC, id ASC
LIMIT $4`
		rows, err = r.DB.QueryContext(ctx, query, userID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a project together with the tombstones of its deleted
// documents, which would otherwise hold the foreign key.
func (r *PGRepo) Delete(ctx context.Context, userID, projectID string) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE user_id = $1 AND project_id = $2 AND status = 'deleted'`,
			userID, projectID,
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE user_id = $1 AND id = $2`, userID, projectID)
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
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var description sql.NullString
	if err := row.Scan(&p.UserID, &p.ID, &p.Name, &description, &p.CreatedAt); err != nil {
		return Project{}, err
	}
	if description.Valid {
		p.Description = description.String
	}
	return p, nil
}

var _ Repo = (*PGRepo)(nil)
