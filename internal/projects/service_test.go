package projects

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fixedCounter int

func (f fixedCounter) CountActiveByProject(context.Context, string, string) (int, error) {
	return int(f), nil
}

func newTestService() *Service {
	tick := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return &Service{
		Repo: NewMemoryRepo(),
		Now: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
	}
}

func TestServiceCreateValidates(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Create(context.Background(), "u1", "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
	p, err := svc.Create(context.Background(), "u1", "  Thesis  ", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Name != "Thesis" || p.ID == "" {
		t.Fatalf("unexpected project: %+v", p)
	}
}

func TestServiceListPaginates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := svc.Create(ctx, "u1", name, ""); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	first, err := svc.List(ctx, "u1", "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first.Projects) != 2 || first.NextCursor == "" {
		t.Fatalf("expected full first page with cursor, got %+v", first)
	}

	second, err := svc.List(ctx, "u1", first.NextCursor, 2)
	if err != nil {
		t.Fatalf("List second page: %v", err)
	}
	if len(second.Projects) != 1 || second.Projects[0].Name != "c" {
		t.Fatalf("unexpected second page: %+v", second.Projects)
	}
	if second.NextCursor != "" {
		t.Fatalf("expected no cursor on last page, got %q", second.NextCursor)
	}

	if _, err := svc.List(ctx, "u1", "%%%", 2); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad cursor, got %v", err)
	}
}

func TestServiceDeleteBlockedWhileNotEmpty(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p, err := svc.Create(ctx, "u1", "busy", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	svc.Documents = fixedCounter(1)
	svc.Conversations = fixedCounter(0)
	if err := svc.Delete(ctx, "u1", p.ID); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty with live documents, got %v", err)
	}

	svc.Documents = fixedCounter(0)
	svc.Conversations = fixedCounter(2)
	if err := svc.Delete(ctx, "u1", p.ID); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty with conversations, got %v", err)
	}

	svc.Conversations = fixedCounter(0)
	if err := svc.Delete(ctx, "u1", p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, err := svc.ProjectExists(ctx, "u1", p.ID); err != nil || ok {
		t.Fatalf("expected project gone, got %v %v", ok, err)
	}
}

func TestServiceProjectExistsIsTenantScoped(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p, err := svc.Create(ctx, "u1", "mine", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, _ := svc.ProjectExists(ctx, "u1", p.ID); !ok {
		t.Fatalf("expected owner to see project")
	}
	if ok, _ := svc.ProjectExists(ctx, "u2", p.ID); ok {
		t.Fatalf("expected other tenant not to see project")
	}
}
