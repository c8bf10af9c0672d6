package vectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReplaceIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	chunks := []Chunk{
		{Position: 1, Page: 2, Content: "b", Vector: []float32{0, 1}},
		{Position: 0, Page: 1, Content: "a", Vector: []float32{1, 0}},
	}

	require.NoError(t, s.Replace(ctx, "u1", "d1", chunks))
	require.NoError(t, s.Replace(ctx, "u1", "d1", chunks))

	n, err := s.Count(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStoreSearchScopesToDocumentsAndUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "u1", "d1", []Chunk{
		{Position: 0, Content: "east", Vector: []float32{1, 0}},
		{Position: 1, Content: "north", Vector: []float32{0, 1}},
	}))
	require.NoError(t, s.Replace(ctx, "u1", "d2", []Chunk{
		{Position: 0, Content: "other doc", Vector: []float32{1, 0}},
	}))
	require.NoError(t, s.Replace(ctx, "u2", "d1", []Chunk{
		{Position: 0, Content: "other tenant", Vector: []float32{1, 0}},
	}))

	got, err := s.Search(ctx, "u1", []string{"d1"}, []float32{0.9, 0.1}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "east", got[0].Content)
	assert.Equal(t, "north", got[1].Content)
	assert.Greater(t, got[0].Score, got[1].Score)

	_, err = s.Search(ctx, "u1", []string{"d1"}, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryStoreDeleteByDocument(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "u1", "d1", []Chunk{{Content: "x", Vector: []float32{1}}}))
	require.NoError(t, s.DeleteByDocument(ctx, "u1", "d1"))

	n, err := s.Count(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStoreReplaceRejectsMixedDimensions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Replace(ctx, "u1", "d1", []Chunk{
		{Position: 0, Content: "a", Vector: []float32{1, 0}},
		{Position: 1, Content: "b", Vector: []float32{1, 0, 0}},
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	err = s.Replace(ctx, "u1", "d1", []Chunk{{Position: 0, Content: "a"}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	n, err := s.Count(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
