package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/alloc"
)

func normalPlan() *alloc.GenerationPlan {
	return &alloc.GenerationPlan{
		Name:         "normal",
		TotalSamples: 1000,
		Scenarios:    map[string]float64{"work": 0.6, "home": 0.4},
		Operations:   map[string]float64{"encode": 0.5, "retrieve": 0.3, "delete": 0.2},
		WorkflowPct:  0.15,
		BatchSize:    50,
	}
}

func TestAllocate_NormalMode_AccountsForEverySample(t *testing.T) {
	batches, err := alloc.Allocate(normalPlan())
	require.NoError(t, err)

	total := 0
	for _, b := range batches {
		total += b.Count
		assert.LessOrEqual(t, b.Count, 50)
		assert.Len(t, b.Structures, b.Count)
	}
	assert.Equal(t, 1000, total)
}

func TestAllocate_NormalMode_Deterministic(t *testing.T) {
	p := normalPlan()
	first, err := alloc.Allocate(p)
	require.NoError(t, err)
	second, err := alloc.Allocate(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAllocate_SmallSample_EveryOperationAppears(t *testing.T) {
	p := &alloc.GenerationPlan{
		TotalSamples: 4,
		Scenarios:    map[string]float64{"work": 1.0},
		Operations:   map[string]float64{"encode": 0.5, "retrieve": 0.3, "delete": 0.2},
		WorkflowPct:  0,
		BatchSize:    10,
	}
	batches, err := alloc.Allocate(p)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, b := range batches {
		seen[b.Operation] = true
	}
	assert.True(t, seen["encode"])
	assert.True(t, seen["retrieve"])
	assert.True(t, seen["delete"])
}

func TestAllocate_RejectsZeroBatchSize(t *testing.T) {
	p := normalPlan()
	p.BatchSize = 0
	_, err := alloc.Allocate(p)
	assert.Error(t, err)
}

func TestAllocate_StructureSplit(t *testing.T) {
	p := &alloc.GenerationPlan{
		TotalSamples: 100,
		Scenarios:    map[string]float64{"work": 1.0},
		Operations:   map[string]float64{"encode": 1.0},
		WorkflowPct:  0.2,
		BatchSize:    100,
	}
	batches, err := alloc.Allocate(p)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	workflows := 0
	for _, s := range batches[0].Structures {
		if s == "workflow" {
			workflows++
		}
	}
	assert.Equal(t, 20, workflows)
}
