package assertion_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/assertion"
	"github.com/text2mem/benchctl/internal/store/sqlite"
	"github.com/text2mem/benchctl/internal/t2m"
)

func TestCompile_RejectsUnknownTable(t *testing.T) {
	_, err := assertion.Compile(&t2m.AssertionSpec{Select: t2m.SelectSpec{From: "users"}})
	require.Error(t, err)
}

func TestCompile_RejectsUnknownAggregate(t *testing.T) {
	_, err := assertion.Compile(&t2m.AssertionSpec{Select: t2m.SelectSpec{Agg: "stddev"}})
	require.Error(t, err)
}

func TestCompileAndRun_CountMatches(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "a", Tags: []string{"work"}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "b", Tags: []string{"work"}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &t2m.MemoryRecord{Text: "c", Tags: []string{"home"}})
	require.NoError(t, err)

	spec := &t2m.AssertionSpec{
		Name:   "work_count",
		Select: t2m.SelectSpec{From: "memory", Where: []string{"tags LIKE '%\"work\"%'"}},
		Expect: t2m.ExpectSpec{Op: t2m.CmpEQ, Value: 2.0},
	}
	c, err := assertion.Compile(spec)
	require.NoError(t, err)

	res := assertion.Run(ctx, s.DB(), c)
	require.NoError(t, res.Err)
	assert.True(t, res.Passed, "got=%v want=%v", res.Got, res.Want)
}
