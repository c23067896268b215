package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/text2mem/benchctl/internal/alloc"
	"github.com/text2mem/benchctl/internal/checkpoint"
	"github.com/text2mem/benchctl/internal/t2m"
)

// Catalog resolves a batch's scenario/operation names to the prompt
// metadata the generators need.
type Catalog struct {
	Scenarios  map[string]Scenario
	Operations map[t2m.Op]OperationInfo
	Langs      []string
}

// stage1Row is one persisted line of stage1.jsonl: a Stage1Result plus the
// batch/operation context stage2 needs without re-deriving it.
type stage1Row struct {
	BatchID   int               `json:"batch_id"`
	Operation t2m.Op            `json:"operation"`
	Result    Stage1Result      `json:"result"`
}

// stage2Row is one persisted line of stage2.jsonl.
type stage2Row struct {
	BatchID int          `json:"batch_id"`
	Stage1  Stage1Result `json:"stage1"`
	Stage2  Stage2Result `json:"stage2"`
}

// Controller orchestrates Stage1Generator -> Stage2Generator ->
// Stage3Generator over a batch schedule, with checkpointed resume (§4.4).
// RunSync and RunAsync are its two interchangeable run() implementations.
type Controller struct {
	Stage1     *Stage1Generator
	Stage2     *Stage2Generator
	Stage3     *Stage3Generator
	Catalog    Catalog
	Checkpoint *checkpoint.Store
	RunDir     string

	// MaxConcurrent bounds the async implementation's semaphore; unused by
	// RunSync.
	MaxConcurrent int
	// CheckpointBatchInterval is the async writer's commit cadence
	// (§4.4: "batches checkpoint commits, default every 10 writes").
	CheckpointBatchInterval int
}

func (c *Controller) stagePath(name string) string {
	return filepath.Join(c.RunDir, name+".jsonl")
}

// RunSync executes all three stages sequentially, flushing each sample to
// disk before bumping the checkpoint (§4.4's synchronous write discipline).
func (c *Controller) RunSync(ctx context.Context, plan *alloc.GenerationPlan) error {
	if err := os.MkdirAll(c.RunDir, 0755); err != nil {
		return fmt.Errorf("pipeline: create run dir: %w", err)
	}

	now := time.Now()
	cp, err := c.Checkpoint.Load(plan.Name, plan.TotalSamples, now)
	if err != nil {
		return err
	}

	batches, err := alloc.Allocate(plan)
	if err != nil {
		return err
	}

	if !cp.Stages["stage1"].Done() {
		if err := c.runStage1Sync(ctx, cp, batches); err != nil {
			return err
		}
	}
	if !cp.Stages["stage2"].Done() {
		if err := c.runStage2Sync(ctx, cp); err != nil {
			return err
		}
	}
	if !cp.Stages["stage3"].Done() {
		if err := c.runStage3Sync(ctx, cp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runStage1Sync(ctx context.Context, cp *t2m.Checkpoint, batches []alloc.TaskBatch) error {
	cp.Stages["stage1"].TotalBatches = len(batches)
	w, err := newJSONLWriter(c.stagePath("stage1"))
	if err != nil {
		return err
	}
	defer w.Close()

	langs := c.Catalog.Langs
	if len(langs) == 0 {
		langs = []string{"en"}
	}

	for _, batch := range batches {
		if checkpoint.ShouldSkipBatch(cp, "stage1", batch.BatchID) {
			continue
		}
		scenario := c.Catalog.Scenarios[batch.Scenario]
		op := c.Catalog.Operations[t2m.Op(batch.Operation)]
		lang := langs[batch.BatchID%len(langs)]

		for i := 0; i < batch.Count; i++ {
			structure := t2m.Structure(batch.Structures[i])
			result, failed := c.Stage1.Generate(ctx, scenario, op, lang, structure)
			if failed != nil {
				if err := c.Checkpoint.RecordBatchFailure(cp, "stage1", batch.BatchID, failed.Err, time.Now()); err != nil {
					return err
				}
				continue
			}
			if err := w.WriteAndFlush(stage1Row{BatchID: batch.BatchID, Operation: op.Op, Result: *result}); err != nil {
				return err
			}
		}
		if err := c.Checkpoint.RecordBatchCompletion(cp, "stage1", batch.Scenario, batch.Operation, batch.Count, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runStage2Sync(ctx context.Context, cp *t2m.Checkpoint) error {
	rows, err := readJSONL[stage1Row](c.stagePath("stage1"))
	if err != nil {
		return err
	}
	cp.Stages["stage2"].TotalBatches = cp.Stages["stage1"].TotalBatches

	w, err := newJSONLWriter(c.stagePath("stage2"))
	if err != nil {
		return err
	}
	defer w.Close()

	seen := map[int]bool{}
	for _, row := range rows {
		if checkpoint.ShouldSkipBatch(cp, "stage2", row.BatchID) {
			continue
		}
		result, failed := c.Stage2.Generate(ctx, &row.Result, row.Operation)
		if failed != nil {
			if err := c.Checkpoint.RecordBatchFailure(cp, "stage2", row.BatchID, failed.Err, time.Now()); err != nil {
				return err
			}
			continue
		}
		if err := w.WriteAndFlush(stage2Row{BatchID: row.BatchID, Stage1: row.Result, Stage2: *result}); err != nil {
			return err
		}
		if !seen[row.BatchID] {
			seen[row.BatchID] = true
			if err := c.Checkpoint.RecordBatchCompletion(cp, "stage2", "", "", 0, time.Now()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) runStage3Sync(ctx context.Context, cp *t2m.Checkpoint) error {
	rows, err := readJSONL[stage2Row](c.stagePath("stage2"))
	if err != nil {
		return err
	}
	cp.Stages["stage3"].TotalBatches = cp.Stages["stage2"].TotalBatches

	w, err := newJSONLWriter(c.stagePath("stage3"))
	if err != nil {
		return err
	}
	defer w.Close()

	seen := map[int]bool{}
	for _, row := range rows {
		if checkpoint.ShouldSkipBatch(cp, "stage3", row.BatchID) {
			continue
		}
		expected, failed := c.Stage3.Generate(ctx, &row.Stage1, &row.Stage2)
		if failed != nil {
			if err := c.Checkpoint.RecordBatchFailure(cp, "stage3", row.BatchID, failed.Err, time.Now()); err != nil {
				return err
			}
			continue
		}

		sample := t2m.GenerationSample{
			ID:            row.Stage1.SampleID,
			Class:         row.Stage1.Classification,
			NL:            map[string]string{row.Stage1.Classification.Lang: row.Stage1.Instruction},
			Prerequisites: row.Stage2.Prerequisites,
			SchemaList:    row.Stage2.SchemaList,
			Expected:      *expected,
		}
		if err := w.WriteAndFlush(sample); err != nil {
			return err
		}
		if !seen[row.BatchID] {
			seen[row.BatchID] = true
			if err := c.Checkpoint.RecordBatchCompletion(cp, "stage3", "", "", 0, time.Now()); err != nil {
				return err
			}
		}
	}
	return nil
}
