package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/text2mem/benchctl/internal/alloc"
	"github.com/text2mem/benchctl/internal/checkpoint"
	"github.com/text2mem/benchctl/internal/t2m"
)

// stage1Item is one (batch, structure) unit of Stage 1 work.
type stage1Item struct {
	batch     alloc.TaskBatch
	structure t2m.Structure
	lang      string
}

// RunAsync executes all three stages with a bounded-concurrency worker
// pool and a single ordered writer per stage (§4.4/§5's async
// implementation), batching checkpoint commits every
// CheckpointBatchInterval writes.
func (c *Controller) RunAsync(ctx context.Context, plan *alloc.GenerationPlan, requestsPerSecond float64) error {
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

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), c.MaxConcurrent)
	}

	if !cp.Stages["stage1"].Done() {
		if err := c.runStage1Async(ctx, cp, batches, limiter); err != nil {
			return err
		}
	}
	if !cp.Stages["stage2"].Done() {
		if err := c.runStage2Async(ctx, cp, limiter); err != nil {
			return err
		}
	}
	if !cp.Stages["stage3"].Done() {
		if err := c.runStage3Async(ctx, cp, limiter); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runStage1Async(ctx context.Context, cp *t2m.Checkpoint, batches []alloc.TaskBatch, limiter *rate.Limiter) error {
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

	byBatchID := map[int]alloc.TaskBatch{}
	var items []stage1Item
	for _, batch := range batches {
		if checkpoint.ShouldSkipBatch(cp, "stage1", batch.BatchID) {
			continue
		}
		byBatchID[batch.BatchID] = batch
		lang := langs[batch.BatchID%len(langs)]
		for i := 0; i < batch.Count; i++ {
			items = append(items, stage1Item{batch: batch, structure: t2m.Structure(batch.Structures[i]), lang: lang})
		}
	}

	committer := newBatchCommitter(c.CheckpointBatchInterval, func() error {
		return c.Checkpoint.Save(cp, time.Now())
	})

	done := map[int]int{}
	err = runAsyncFanout(ctx, items,
		func(it stage1Item) int { return it.batch.BatchID },
		c.MaxConcurrent, limiter,
		func(ctx context.Context, it stage1Item) (interface{}, *FailedItem) {
			scenario := c.Catalog.Scenarios[it.batch.Scenario]
			op := c.Catalog.Operations[t2m.Op(it.batch.Operation)]
			result, failed := c.Stage1.Generate(ctx, scenario, op, it.lang, it.structure)
			if failed != nil {
				return nil, failed
			}
			return stage1Row{BatchID: it.batch.BatchID, Operation: op.Op, Result: *result}, nil
		},
		func(batchID int, payload interface{}) error {
			if err := w.WriteAndFlush(payload); err != nil {
				return err
			}
			done[batchID]++
			if done[batchID] == byBatchID[batchID].Count {
				batch := byBatchID[batchID]
				if err := checkpoint.MarkBatchCompleted(cp, "stage1", batch.Scenario, batch.Operation, batch.Count, time.Now()); err != nil {
					return err
				}
			}
			return committer.Tick()
		},
		func(batchID int, failed *FailedItem) error {
			checkpoint.MarkBatchFailed(cp, "stage1", batchID, failed.Err, time.Now())
			return committer.Tick()
		},
	)
	if err != nil {
		return err
	}
	return committer.Flush()
}

func (c *Controller) runStage2Async(ctx context.Context, cp *t2m.Checkpoint, limiter *rate.Limiter) error {
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

	committer := newBatchCommitter(c.CheckpointBatchInterval, func() error {
		return c.Checkpoint.Save(cp, time.Now())
	})

	seen := map[int]bool{}
	err = runAsyncFanout(ctx, rows,
		func(r stage1Row) int { return r.BatchID },
		c.MaxConcurrent, limiter,
		func(ctx context.Context, r stage1Row) (interface{}, *FailedItem) {
			result, failed := c.Stage2.Generate(ctx, &r.Result, r.Operation)
			if failed != nil {
				return nil, failed
			}
			return stage2Row{BatchID: r.BatchID, Stage1: r.Result, Stage2: *result}, nil
		},
		func(batchID int, payload interface{}) error {
			if err := w.WriteAndFlush(payload); err != nil {
				return err
			}
			if !seen[batchID] {
				seen[batchID] = true
				if err := checkpoint.MarkBatchCompleted(cp, "stage2", "", "", 0, time.Now()); err != nil {
					return err
				}
			}
			return committer.Tick()
		},
		func(batchID int, failed *FailedItem) error {
			checkpoint.MarkBatchFailed(cp, "stage2", batchID, failed.Err, time.Now())
			return committer.Tick()
		},
	)
	if err != nil {
		return err
	}
	return committer.Flush()
}

func (c *Controller) runStage3Async(ctx context.Context, cp *t2m.Checkpoint, limiter *rate.Limiter) error {
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

	committer := newBatchCommitter(c.CheckpointBatchInterval, func() error {
		return c.Checkpoint.Save(cp, time.Now())
	})

	seen := map[int]bool{}
	err = runAsyncFanout(ctx, rows,
		func(r stage2Row) int { return r.BatchID },
		c.MaxConcurrent, limiter,
		func(ctx context.Context, r stage2Row) (interface{}, *FailedItem) {
			expected, failed := c.Stage3.Generate(ctx, &r.Stage1, &r.Stage2)
			if failed != nil {
				return nil, failed
			}
			sample := t2m.GenerationSample{
				ID:            r.Stage1.SampleID,
				Class:         r.Stage1.Classification,
				NL:            map[string]string{r.Stage1.Classification.Lang: r.Stage1.Instruction},
				Prerequisites: r.Stage2.Prerequisites,
				SchemaList:    r.Stage2.SchemaList,
				Expected:      *expected,
			}
			return sample, nil
		},
		func(batchID int, payload interface{}) error {
			if err := w.WriteAndFlush(payload); err != nil {
				return err
			}
			if !seen[batchID] {
				seen[batchID] = true
				if err := checkpoint.MarkBatchCompleted(cp, "stage3", "", "", 0, time.Now()); err != nil {
					return err
				}
			}
			return committer.Tick()
		},
		func(batchID int, failed *FailedItem) error {
			checkpoint.MarkBatchFailed(cp, "stage3", batchID, failed.Err, time.Now())
			return committer.Tick()
		},
	)
	if err != nil {
		return err
	}
	return committer.Flush()
}
