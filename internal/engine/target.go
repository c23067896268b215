package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/t2m"
)

// resolvedTarget is the concrete id set a TargetSpec resolves to, plus the
// search metadata (if any) callers need to surface in their result payload.
type resolvedTarget struct {
	IDs        []int64
	SearchMeta *store.SearchMeta
	Scored     []store.ScoredRecord
}

// resolveTarget turns a TargetSpec into a concrete, deduplicated id set.
// filter+search resolves the filter first and passes it as the search
// pre-condition (§4.5: "apply filter as pre-conditions, then rank within"),
// matching every STO op's "target.search additionally resolves to ids
// intersected with filter/ids" rule.
func (e *Engine) resolveTarget(ctx context.Context, t *t2m.TargetSpec) (*resolvedTarget, error) {
	if t == nil {
		return &resolvedTarget{}, nil
	}

	if t.All {
		page, err := e.Store.List(ctx, store.ListOptions{Limit: 1000000, IncludeDeleted: false})
		if err != nil {
			return nil, fmt.Errorf("engine: resolve target all: %w", err)
		}
		ids := make([]int64, len(page.Items))
		for i, m := range page.Items {
			ids[i] = m.ID
		}
		return &resolvedTarget{IDs: ids}, nil
	}

	var filterIDs []int64
	if t.Filter != nil {
		ids, err := e.Store.FilterIDs(ctx, t.Filter, e.now())
		if err != nil {
			return nil, fmt.Errorf("engine: resolve target filter: %w", err)
		}
		filterIDs = ids
	}

	if t.Search != nil {
		scored, meta, err := e.runSearch(ctx, t.Search, filterIDs)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve target search: %w", err)
		}
		ids := make([]int64, len(scored))
		for i, s := range scored {
			ids[i] = s.Record.ID
		}
		return &resolvedTarget{IDs: ids, SearchMeta: meta, Scored: scored}, nil
	}

	if len(t.IDs) > 0 {
		ids := make([]int64, 0, len(t.IDs))
		idSet := toSet(filterIDs)
		hasFilter := t.Filter != nil
		for _, s := range t.IDs {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("engine: target.ids contains non-numeric id %q: %w", s, err)
			}
			if hasFilter && !idSet[id] {
				continue
			}
			ids = append(ids, id)
		}
		return &resolvedTarget{IDs: ids}, nil
	}

	if t.Filter != nil {
		return &resolvedTarget{IDs: filterIDs}, nil
	}

	return &resolvedTarget{}, nil
}

// runSearch resolves a SearchSpec to a ranked candidate list, honoring the
// query/vector intent and the limit precedence search.limit > overrides.k >
// 10 (§4.5).
func (e *Engine) runSearch(ctx context.Context, s *t2m.SearchSpec, filterIDs []int64) ([]store.ScoredRecord, *store.SearchMeta, error) {
	opts := store.SearchOptions{
		FilterIDs:   filterIDs,
		Limit:       e.resolveLimit(s),
		Alpha:       e.Tuning.Alpha,
		Beta:        e.Tuning.Beta,
		PhraseBonus: e.Tuning.PhraseBonus,
	}

	vector := s.Intent.Vector
	if len(vector) == 0 && s.Intent.Query != "" && e.Embedding != nil {
		v, err := e.Embedding.Embed(ctx, s.Intent.Query)
		if err != nil {
			return nil, nil, fmt.Errorf("engine: embed search query: %w", err)
		}
		vector = v
	}

	return e.Store.HybridSearch(ctx, s.Intent.Query, vector, opts)
}

// resolveLimit applies search.limit > overrides.k > Tuning.DefaultK > 10
// precedence, then clamps to Tuning.MaxLimit when one is configured (§4.5,
// §6 TEXT2MEM_SEARCH_* tuning).
func (e *Engine) resolveLimit(s *t2m.SearchSpec) int {
	limit := e.Tuning.DefaultK
	if limit <= 0 {
		limit = e.Tuning.DefaultLimit
	}
	if limit <= 0 {
		limit = 10
	}
	if s.Overrides != nil && s.Overrides.K != nil && *s.Overrides.K > 0 {
		limit = *s.Overrides.K
	}
	if s.Limit != nil && *s.Limit > 0 {
		limit = *s.Limit
	}
	if e.Tuning.MaxLimit > 0 && limit > e.Tuning.MaxLimit {
		limit = e.Tuning.MaxLimit
	}
	return limit
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
