package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/text2mem/benchctl/internal/t2m"
)

// merge implements Merge/STO: combine ≥2 rows into one primary, concatenate
// text, union tags (the primary's facets are kept as they are), recompute
// the embedding unless skip_reembedding,
// and soft- or hard-delete the absorbed children while recording lineage
// (§4.5).
func (e *Engine) merge(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.MergeArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: merge requires MergeArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}
	if len(resolved.IDs) < 2 {
		return nil, fmt.Errorf("engine: merge requires at least 2 target rows, got %d", len(resolved.IDs))
	}

	records := make([]*t2m.MemoryRecord, 0, len(resolved.IDs))
	for _, id := range resolved.IDs {
		m, err := e.Store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("engine: merge fetch %d: %w", id, err)
		}
		records = append(records, m)
	}

	primary := records[0]
	if args.PrimaryID != "" {
		if id, err := strconv.ParseInt(args.PrimaryID, 10, 64); err == nil {
			for _, m := range records {
				if m.ID == id {
					primary = m
					break
				}
			}
		}
	}

	var texts []string
	var children []*t2m.MemoryRecord
	seenTags := map[string]bool{}
	for _, m := range records {
		texts = append(texts, m.Text)
		for _, t := range m.Tags {
			seenTags[t] = true
		}
		if m.ID != primary.ID {
			children = append(children, m)
		}
	}

	primary.Text = strings.Join(texts, "\n\n")
	primary.Tags = primary.Tags[:0]
	for t := range seenTags {
		primary.Tags = append(primary.Tags, t)
	}

	var childIDs []int64
	for _, c := range children {
		childIDs = append(childIDs, c.ID)
	}
	primary.LineageParents = append(primary.LineageParents, childIDs...)

	if !args.SkipReembedding && e.Embedding != nil {
		vec, err := e.Embedding.Embed(ctx, primary.Text)
		if err != nil {
			return nil, fmt.Errorf("engine: merge re-embed: %w", err)
		}
		primary.Embedding = t2m.Embedding{Vector: vec, Dim: len(vec), Model: e.Embedding.Model(), Provider: providerName(e.Embedding)}
	}

	if err := e.Store.Update(ctx, primary); err != nil {
		return nil, fmt.Errorf("engine: merge update primary %d: %w", primary.ID, err)
	}

	for _, c := range children {
		c.LineageChildren = append(c.LineageChildren, primary.ID)
		if err := e.Store.Update(ctx, c); err != nil {
			return nil, fmt.Errorf("engine: merge record lineage %d: %w", c.ID, err)
		}
		if args.HardDeleteChildren {
			if err := e.Store.HardDelete(ctx, c.ID); err != nil {
				return nil, fmt.Errorf("engine: merge hard delete child %d: %w", c.ID, err)
			}
		} else {
			if err := e.Store.SoftDelete(ctx, c.ID); err != nil {
				return nil, fmt.Errorf("engine: merge soft delete child %d: %w", c.ID, err)
			}
			if err := e.Store.UpdateState(ctx, c.ID, t2m.StateDeleted); err != nil {
				return nil, fmt.Errorf("engine: merge child state %d: %w", c.ID, err)
			}
		}
	}

	return map[string]interface{}{
		"primary_id":   primary.ID,
		"merged_ids":   childIDs,
		"affected_rows": 1 + len(children),
	}, nil
}
