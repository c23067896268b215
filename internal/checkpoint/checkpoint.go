// Package checkpoint persists t2m.Checkpoint to disk: atomic read/update/
// write so a crash mid-save never leaves a torn JSON file behind (§4.3).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/text2mem/benchctl/internal/t2m"
)

// Store wraps a single checkpoint file on disk.
type Store struct {
	path string
}

// New returns a Store writing to path. The directory must already exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the checkpoint file, returning a fresh one for planName if the
// file does not exist yet (first run, resume=false, or resume=true on a
// pipeline that has never run).
func (s *Store) Load(planName string, totalSamples int, now time.Time) (*t2m.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return t2m.NewCheckpoint(planName, totalSamples, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}

	var cp t2m.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", s.path, err)
	}
	return &cp, nil
}

// Save atomically overwrites the checkpoint file: the new content is
// written to a sibling temp file, fsynced, then renamed into place so
// readers never observe a partially written file.
func (s *Store) Save(cp *t2m.Checkpoint, now time.Time) error {
	cp.UpdatedAt = now

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("checkpoint: rename into place: %w", err)
	}
	return nil
}

// MarkBatchCompleted updates a stage's counters for one completed batch
// without saving, so an async caller can batch several completions into one
// Save (§4.4's "batches checkpoint commits").
func MarkBatchCompleted(cp *t2m.Checkpoint, stage, scenario, operation string, count int, now time.Time) error {
	progress, ok := cp.Stages[stage]
	if !ok {
		return fmt.Errorf("checkpoint: unknown stage %q", stage)
	}
	progress.CompletedBatches++
	if progress.StartedAt == nil {
		progress.StartedAt = &now
	}
	if progress.Done() {
		progress.Status = t2m.BatchCompleted
		completedAt := now
		progress.CompletedAt = &completedAt
	} else {
		progress.Status = t2m.BatchRunning
	}

	cp.CompletedByScenario[scenario] += count
	cp.CompletedByOperation[operation] += count
	return nil
}

// MarkBatchFailed logs a failed batch without saving. Failure never aborts
// the pipeline (§7 "propagation policy is continue") -- it only accumulates
// FailedBatches and an error log entry.
func MarkBatchFailed(cp *t2m.Checkpoint, stage string, batchID int, err error, now time.Time) {
	if progress, ok := cp.Stages[stage]; ok {
		progress.FailedBatches++
	}
	cp.RecordError(stage, batchID, err, now)
}

// RecordBatchCompletion updates a stage's counters for one completed batch
// and saves the checkpoint, the "every batch completion triggers a save"
// rule of §4.3 used by the synchronous pipeline.
func (s *Store) RecordBatchCompletion(cp *t2m.Checkpoint, stage, scenario, operation string, count int, now time.Time) error {
	if err := MarkBatchCompleted(cp, stage, scenario, operation, count, now); err != nil {
		return err
	}
	return s.Save(cp, now)
}

// RecordBatchFailure logs a failed batch and saves the checkpoint. Failure
// never aborts the pipeline (§7 "propagation policy is continue") -- it
// only accumulates FailedBatches and an error log entry.
func (s *Store) RecordBatchFailure(cp *t2m.Checkpoint, stage string, batchID int, err error, now time.Time) error {
	MarkBatchFailed(cp, stage, batchID, err, now)
	return s.Save(cp, now)
}

// ShouldSkipBatch reports whether batchID has already been completed for
// stage, per the exact-prefix resume rule: "skips batches with batch_id <
// completed_batches" (§4.3).
func ShouldSkipBatch(cp *t2m.Checkpoint, stage string, batchID int) bool {
	progress, ok := cp.Stages[stage]
	if !ok {
		return false
	}
	return batchID < progress.CompletedBatches
}
