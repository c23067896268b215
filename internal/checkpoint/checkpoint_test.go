package checkpoint_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/checkpoint"
	"github.com/text2mem/benchctl/internal/t2m"
)

func TestLoad_MissingFileReturnsFreshCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := checkpoint.New(path)

	cp, err := s.Load("plan-a", 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "plan-a", cp.PlanName)
	assert.Equal(t, 100, cp.TotalSamples)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := checkpoint.New(path)
	now := time.Now()

	cp, err := s.Load("plan-a", 10, now)
	require.NoError(t, err)
	require.NoError(t, s.RecordBatchCompletion(cp, "stage1", "work", "encode", 5, now))

	reloaded, err := s.Load("plan-a", 10, now)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.TotalCompleted())
	assert.Equal(t, 5, reloaded.CompletedByScenario["work"])
}

func TestRecordBatchCompletion_MarksStageCompletedAtTotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := checkpoint.New(path)
	now := time.Now()

	cp, err := s.Load("plan-a", 10, now)
	require.NoError(t, err)
	cp.Stages["stage1"].TotalBatches = 2

	require.NoError(t, s.RecordBatchCompletion(cp, "stage1", "work", "encode", 5, now))
	assert.Equal(t, t2m.BatchRunning, cp.Stages["stage1"].Status)

	require.NoError(t, s.RecordBatchCompletion(cp, "stage1", "work", "encode", 5, now))
	assert.Equal(t, t2m.BatchCompleted, cp.Stages["stage1"].Status)
}

func TestShouldSkipBatch_ExactPrefixResume(t *testing.T) {
	cp := t2m.NewCheckpoint("plan-a", 10, time.Now())
	cp.Stages["stage1"].CompletedBatches = 3

	assert.True(t, checkpoint.ShouldSkipBatch(cp, "stage1", 0))
	assert.True(t, checkpoint.ShouldSkipBatch(cp, "stage1", 2))
	assert.False(t, checkpoint.ShouldSkipBatch(cp, "stage1", 3))
}

func TestRecordBatchFailure_AccumulatesErrorLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := checkpoint.New(path)
	now := time.Now()

	cp, err := s.Load("plan-a", 10, now)
	require.NoError(t, err)
	require.NoError(t, s.RecordBatchFailure(cp, "stage1", 4, errors.New("boom"), now))

	require.Len(t, cp.Errors, 1)
	assert.Equal(t, "boom", cp.Errors[0].Error)
	assert.Equal(t, 1, cp.Stages["stage1"].FailedBatches)
}
