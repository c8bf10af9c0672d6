package projects

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepoListOrdersByCreatedThenID(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, p := range []Project{
		{UserID: "u1", ID: "c", Name: "third", CreatedAt: base.Add(time.Minute)},
		{UserID: "u1", ID: "b", Name: "second", CreatedAt: base},
		{UserID: "u1", ID: "a", Name: "first", CreatedAt: base},
		{UserID: "u2", ID: "z", Name: "other tenant", CreatedAt: base},
	} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create %s: %v", p.ID, err)
		}
	}

	got, err := repo.List(ctx, "u1", nil, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d projects, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	after := &Cursor{CreatedAt: base, ID: "a"}
	got, err = repo.List(ctx, "u1", after, 10)
	if err != nil {
		t.Fatalf("List after cursor: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected page after cursor: %+v", got)
	}
}

func TestMemoryRepoDelete(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	if err := repo.Create(ctx, Project{UserID: "u1", ID: "p1", Name: "x"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, Project{UserID: "u1", ID: "p1", Name: "x"}); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput on duplicate, got %v", err)
	}
	if err := repo.Delete(ctx, "u1", "p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "u1", "p1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, "u1", "p1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC), ID: "p:with:colons"}
	decoded, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !decoded.CreatedAt.Equal(c.CreatedAt) || decoded.ID != c.ID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	if got, err := DecodeCursor(""); err != nil || got != nil {
		t.Fatalf("empty token should decode to nil, got %v %v", got, err)
	}
	if _, err := DecodeCursor("!!not-base64"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
