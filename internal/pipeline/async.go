package pipeline

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// asyncMsg is one item flowing from a worker to the ordered writer: either
// a successful payload or a failure, tagged with the batch it belongs to.
type asyncMsg struct {
	batchID int
	payload interface{}
	failed  *FailedItem
}

// runAsyncFanout drives items through work (bounded by maxConcurrent,
// paced by limiter) and hands every result to the single writer goroutine
// in arrival order, not input order (§4.4/§5: "writes samples in arrival
// order"). onResult and onFailure run on the writer goroutine only, so
// callers never need their own synchronization.
func runAsyncFanout[T any](
	ctx context.Context,
	items []T,
	batchIDOf func(T) int,
	maxConcurrent int,
	limiter *rate.Limiter,
	work func(ctx context.Context, item T) (interface{}, *FailedItem),
	onResult func(batchID int, payload interface{}) error,
	onFailure func(batchID int, failed *FailedItem) error,
) error {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	msgs := make(chan asyncMsg, maxConcurrent)
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	setErr := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			setErr(ctx.Err())
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					msgs <- asyncMsg{batchID: batchIDOf(item), failed: &FailedItem{Err: err}}
					return
				}
			}

			payload, failed := work(ctx, item)
			msgs <- asyncMsg{batchID: batchIDOf(item), payload: payload, failed: failed}
		}(item)
	}

	go func() {
		wg.Wait()
		close(msgs)
	}()

	for msg := range msgs {
		if msg.failed != nil {
			setErr(onFailure(msg.batchID, msg.failed))
			continue
		}
		setErr(onResult(msg.batchID, msg.payload))
	}

	return firstErr
}

// defaultCheckpointBatchInterval is the async writer's commit cadence when
// Controller.CheckpointBatchInterval is unset (§4.4: "default every 10
// writes, and once at shutdown").
const defaultCheckpointBatchInterval = 10

// batchCommitter accumulates writes and flushes the checkpoint every
// interval writes or when Flush is called explicitly (shutdown).
type batchCommitter struct {
	interval int
	pending  int
	commit   func() error
}

func newBatchCommitter(interval int, commit func() error) *batchCommitter {
	if interval < 1 {
		interval = defaultCheckpointBatchInterval
	}
	return &batchCommitter{interval: interval, commit: commit}
}

func (b *batchCommitter) Tick() error {
	b.pending++
	if b.pending >= b.interval {
		b.pending = 0
		return b.commit()
	}
	return nil
}

func (b *batchCommitter) Flush() error {
	if b.pending == 0 {
		return nil
	}
	b.pending = 0
	return b.commit()
}
