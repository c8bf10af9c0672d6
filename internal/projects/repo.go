package projects

import "context"

// Repo defines persistence operations for projects.
type Repo interface {
	Create(ctx context.Context, p Project) error
	Get(ctx context.Context, userID, projectID string) (Project, error)
	// List returns up to limit projects ordered by (CreatedAt, ID) that sort
	// after the cursor.
	List(ctx context.Context, userID string, after *Cursor, limit int) ([]Project, error)
	Delete(ctx context.Context, userID, projectID string) error
}
