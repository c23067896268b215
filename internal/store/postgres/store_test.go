package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/store/postgres"
	"github.com/text2mem/benchctl/internal/t2m"
)

// These tests require a live Postgres instance with the pgvector extension
// installed, matching memento's pattern of skipping DB-backed tests when no
// DSN is configured rather than spinning up a container inline.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEXT2MEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEXT2MEM_TEST_POSTGRES_DSN not set, skipping postgres-backed test")
	}
	return dsn
}

func TestInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := postgres.Open(testDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	id, err := s.Insert(ctx, &t2m.MemoryRecord{
		Text:      "quarterly roadmap review",
		Type:      t2m.CategoryNote,
		Tags:      []string{"roadmap"},
		Embedding: t2m.Embedding{Vector: []float64{0.1, 0.2, 0.3}, Dim: 3, Model: "mock", Provider: "mock"},
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "quarterly roadmap review", got.Text)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding.Vector)
}

func TestHybridSearch_OrdersByScore(t *testing.T) {
	ctx := context.Background()
	s, err := postgres.Open(testDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	vec := func(seed float64) []float64 { return []float64{seed, seed * 2, seed * 3} }

	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "alpha project meeting notes", Embedding: t2m.Embedding{Vector: vec(1), Dim: 3}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "unrelated gardening tips", Embedding: t2m.Embedding{Vector: vec(-1), Dim: 3}})
	require.NoError(t, err)

	results, meta, err := s.HybridSearch(ctx, "alpha project", vec(1), store.SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotEmpty(t, results)
}
