// Package pipeline implements the three-stage NL -> IR -> assertions
// generator (§4.2) and the PipelineController orchestrating them (§4.4).
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

// maxAttempts and the backoff window implement §4.2's "three attempts with
// 1-2s backoff" failure policy.
const maxAttempts = 3

var backoffWindow = [2]time.Duration{time.Second, 2 * time.Second}

// Scenario describes one generation scenario slot (name + natural-language
// description) substituted into a Stage 1 prompt.
type Scenario struct {
	Name        string
	Description string
}

// OperationInfo describes one of the twelve operations for prompt
// substitution: its name, a short description, and example expressions a
// user might phrase as this operation.
type OperationInfo struct {
	Op          t2m.Op
	Description string
	Examples    []string
}

// Bounds carries the length/count constraints a generator enforces on its
// own output (context length minimum, expected assertion count, etc).
type Bounds struct {
	MinContextLength int
	MaxTokens         int
}

// FailedItem is recorded when a generator exhausts its retries; the raw
// last-seen output is kept so a caller can persist it to a debug file.
type FailedItem struct {
	Stage     string
	BatchID   int
	Err       error
	RawOutput string
}

// generateWithRetry calls attempt up to maxAttempts times with backoff
// between tries, returning the first success or the last error.
func generateWithRetry(ctx context.Context, attempt func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	var lastRaw string
	for i := 0; i < maxAttempts; i++ {
		raw, err := attempt(ctx)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		lastRaw = raw
		if i < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return lastRaw, ctx.Err()
			case <-time.After(backoffDuration()):
			}
		}
	}
	return lastRaw, fmt.Errorf("pipeline: exhausted %d attempts: %w", maxAttempts, lastErr)
}

// backoffDuration picks a jittered delay within the 1-2s window.
func backoffDuration() time.Duration {
	lo, hi := backoffWindow[0], backoffWindow[1]
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// callAndParse calls the generation provider with prompt, then parses the
// reply via §4.2's JSON cascade into v. The raw reply is always returned
// alongside so a failed final attempt can still be persisted for
// debugging.
func callAndParse(ctx context.Context, gen llmprovider.GenerationProvider, prompt string, v interface{}) (string, error) {
	reply, err := gen.Complete(ctx, prompt)
	if err != nil {
		return reply, fmt.Errorf("pipeline: generation call: %w", err)
	}
	if err := llmprovider.ParseJSON(reply, v); err != nil {
		return reply, fmt.Errorf("pipeline: parse response: %w", err)
	}
	return reply, nil
}
