package t2m

import "time"

// BatchStatus is the lifecycle state of one pipeline stage within a
// checkpoint.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// StageProgress tracks one stage's batch counters inside a Checkpoint.
type StageProgress struct {
	Status          BatchStatus `json:"status"`
	TotalBatches    int         `json:"total_batches"`
	CompletedBatches int        `json:"completed_batches"`
	FailedBatches   int         `json:"failed_batches"`
	OutputFile      string      `json:"output_file"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// Done reports whether the stage is complete (completed_batches ==
// total_batches, per §4.3).
func (p *StageProgress) Done() bool {
	return p.TotalBatches > 0 && p.CompletedBatches == p.TotalBatches
}

// CheckpointError is one entry in the checkpoint's error log.
type CheckpointError struct {
	Stage     string    `json:"stage"`
	BatchID   int       `json:"batch_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is the durable JSON record of pipeline progress enabling
// exact-prefix resume (§4.3).
type Checkpoint struct {
	PlanName  string    `json:"plan_name"`
	TotalSamples int    `json:"total_samples"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Stages map[string]*StageProgress `json:"stages"`

	CompletedByScenario  map[string]int `json:"completed_by_scenario"`
	CompletedByOperation map[string]int `json:"completed_by_operation"`

	Errors []CheckpointError `json:"errors"`
}

// NewCheckpoint builds an empty checkpoint for a fresh run of the given
// plan, with the three stage slots pre-seeded as pending.
func NewCheckpoint(planName string, totalSamples int, now time.Time) *Checkpoint {
	return &Checkpoint{
		PlanName:     planName,
		TotalSamples: totalSamples,
		StartedAt:    now,
		UpdatedAt:    now,
		Stages: map[string]*StageProgress{
			"stage1": {Status: BatchPending},
			"stage2": {Status: BatchPending},
			"stage3": {Status: BatchPending},
		},
		CompletedByScenario:  map[string]int{},
		CompletedByOperation: map[string]int{},
	}
}

// TotalCompleted sums completed_by_scenario, per §4.3's "total_completed is
// the sum over completed_by_scenario".
func (c *Checkpoint) TotalCompleted() int {
	total := 0
	for _, n := range c.CompletedByScenario {
		total += n
	}
	return total
}

// RecordError appends a structured error entry and does not mark the whole
// pipeline as failed -- propagation policy is "continue" (§7).
func (c *Checkpoint) RecordError(stage string, batchID int, err error, now time.Time) {
	c.Errors = append(c.Errors, CheckpointError{
		Stage:     stage,
		BatchID:   batchID,
		Error:     err.Error(),
		Timestamp: now,
	})
}
