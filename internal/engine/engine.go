// Package engine implements MemoryEngine (§4.5): dispatch on IR.Op across
// the twelve memory operations, grounded on memento's engine-method shape
// (guard clauses, delegate to a storage interface, wrap errors) seen across
// internal/engine/enrichment_pipeline.go, generalized from memento's
// enrichment/entity domain to T2M's IR/MemoryRecord domain.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/text2mem/benchctl/internal/ir"
	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/t2m"
)

// SearchTuning carries the ranking/limit knobs §6 exposes as
// TEXT2MEM_SEARCH_* env vars. A zero-value SearchTuning leaves every
// built-in default (alpha 0.7, beta 0.3, phrase bonus 0.2, k 10) in place,
// so an Engine built without one behaves exactly as before this field
// existed.
type SearchTuning struct {
	Alpha, Beta, PhraseBonus         float64
	DefaultLimit, MaxLimit, DefaultK int
}

// Engine executes IR instructions against a MemoryStore.
type Engine struct {
	Store      store.MemoryStore
	Generation llmprovider.GenerationProvider
	Embedding  llmprovider.EmbeddingProvider
	Tuning     SearchTuning

	// Now returns the instant operations should treat as "current time".
	// TestRunner overrides this with a fixed instant derived from
	// expected.meta.eval_time_utc (§4.6 item 2); production callers default
	// to time.Now.
	Now func() time.Time
}

// New builds an Engine with a wall-clock Now.
func New(s store.MemoryStore, gen llmprovider.GenerationProvider, embed llmprovider.EmbeddingProvider) *Engine {
	return &Engine{Store: s, Generation: gen, Embedding: embed, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Execute validates and dispatches one IR, returning its result payload.
func (e *Engine) Execute(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	if err := ir.Validate(instr); err != nil {
		return nil, fmt.Errorf("engine: invalid IR: %w", err)
	}

	switch instr.Op {
	case t2m.OpEncode:
		return e.encode(ctx, instr)
	case t2m.OpRetrieve:
		return e.retrieve(ctx, instr)
	case t2m.OpSummarize:
		return e.summarize(ctx, instr)
	case t2m.OpLabel:
		return e.label(ctx, instr)
	case t2m.OpUpdate:
		return e.update(ctx, instr)
	case t2m.OpPromote:
		return e.promoteDemote(ctx, instr, true)
	case t2m.OpDemote:
		return e.promoteDemote(ctx, instr, false)
	case t2m.OpDelete:
		return e.delete(ctx, instr)
	case t2m.OpMerge:
		return e.merge(ctx, instr)
	case t2m.OpSplit:
		return e.split(ctx, instr)
	case t2m.OpLock:
		return e.lock(ctx, instr)
	case t2m.OpExpire:
		return e.expire(ctx, instr)
	default:
		return nil, fmt.Errorf("engine: unhandled op %q", instr.Op)
	}
}
