package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"docchat-backend/internal/shared/telemetry"
)

const (
	maxNameLength        = 200
	maxDescriptionLength = 2000
	defaultPageSize      = 20
	maxPageSize          = 100
)

// ChildCounter counts live children of a project.
type ChildCounter interface {
	CountActiveByProject(ctx context.Context, userID, projectID string) (int, error)
}

// Service contains business logic for projects.
type Service struct {
	Repo          Repo
	Documents     ChildCounter
	Conversations ChildCounter
	Now           func() time.Time
}

// Page is one slice of a user's project listing.
type Page struct {
	Projects   []Project
	NextCursor string
}

// Create records a new project owned by userID.
func (s *Service) Create(ctx context.Context, userID, name, description string) (Project, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if userID == "" || name == "" {
		return Project{}, fmt.Errorf("%w: projectName is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return Project{}, fmt.Errorf("%w: projectName too long", ErrInvalidInput)
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return Project{}, fmt.Errorf("%w: description too long", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	p := Project{
		UserID:      userID,
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}
	if err := s.Repo.Create(ctx, p); err != nil {
		return Project{}, err
	}
	telemetry.Info("project.created", map[string]any{"user_id": userID, "project_id": p.ID})
	return p, nil
}

// Get returns a project for a user.
func (s *Service) Get(ctx context.Context, userID, projectID string) (Project, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return Project{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, userID, projectID)
}

// ProjectExists reports whether projectID belongs to userID.
func (s *Service) ProjectExists(ctx context.Context, userID, projectID string) (bool, error) {
	_, err := s.Get(ctx, userID, projectID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		return false, nil
	default:
		return false, err
	}
}

// List returns a page of the user's projects in creation order.
func (s *Service) List(ctx context.Context, userID, cursor string, limit int) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, ErrInvalidInput
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	// One extra row tells us whether another page exists.
	items, err := s.Repo.List(ctx, userID, after, limit+1)
	if err != nil {
		return Page{}, err
	}
	page := Page{Projects: items}
	if len(items) > limit {
		page.Projects = items[:limit]
		last := page.Projects[limit-1]
		page.NextCursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// Delete removes an empty project. Projects with live documents or any
// conversation are kept and ErrNotEmpty is returned.
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	if _, err := s.Get(ctx, userID, projectID); err != nil {
		return err
	}
	for _, counter := range []ChildCounter{s.Documents, s.Conversations} {
		if counter == nil {
			continue
		}
		n, err := counter.CountActiveByProject(ctx, userID, projectID)
		if err != nil {
			return fmt.Errorf("count project children: %w", err)
		}
		if n > 0 {
			return ErrNotEmpty
		}
	}
	if err := s.Repo.Delete(ctx, userID, projectID); err != nil {
		return err
	}
	telemetry.Info("project.deleted", map[string]any{"user_id": userID, "project_id": projectID})
	return nil
}
