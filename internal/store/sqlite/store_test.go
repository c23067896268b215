package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/store/sqlite"
	"github.com/text2mem/benchctl/internal/t2m"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, &t2m.MemoryRecord{Text: "alpha project meeting notes", Type: t2m.CategoryNote, Tags: []string{"proj"}})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alpha project meeting notes", got.Text)
	assert.Equal(t, []string{"proj"}, got.Tags)
	assert.False(t, got.Deleted)
}

func TestSoftDelete_HidesFromList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, &t2m.MemoryRecord{Text: "to be deleted"})
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	res, err := s.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}

func TestHybridSearch_RanksByCombinedScore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mkVec := func(seed float64) []float64 { return []float64{seed, seed * 2, seed * 3} }

	_, err := s.Insert(ctx, &t2m.MemoryRecord{Text: "alpha project meeting notes", Embedding: t2m.Embedding{Vector: mkVec(1), Dim: 3, Model: "mock", Provider: "mock"}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "beta launch plan", Embedding: t2m.Embedding{Vector: mkVec(0.9), Dim: 3, Model: "mock", Provider: "mock"}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "unrelated gardening tips", Embedding: t2m.Embedding{Vector: mkVec(-1), Dim: 3, Model: "mock", Provider: "mock"}})
	require.NoError(t, err)

	results, meta, err := s.HybridSearch(ctx, "alpha project plan", mkVec(1), store.SearchOptions{Limit: 3})
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Len(t, results, 3)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestVectorSearch_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Insert(ctx, &t2m.MemoryRecord{Text: "x", Embedding: t2m.Embedding{Vector: []float64{1, 2, 3}, Dim: 3}})
	require.NoError(t, err)

	results, meta, err := s.VectorSearch(ctx, []float64{1, 2}, store.SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, "query_vector_dimension_mismatch", meta.Note)
}
