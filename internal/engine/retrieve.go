package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/text2mem/benchctl/internal/t2m"
)

// retrieve implements Retrieve/RET: direct id lookup, filter, search, or
// filter+search (§4.5).
func (e *Engine) retrieve(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}

	if resolved.SearchMeta != nil && resolved.SearchMeta.Note == "query_vector_dimension_mismatch" {
		return map[string]interface{}{"results": []interface{}{}, "note": resolved.SearchMeta.Note}, nil
	}

	records, err := e.fetchMany(ctx, resolved.IDs)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0, len(records))
	scoreByID := map[int64]float64{}
	for _, s := range resolved.Scored {
		scoreByID[s.Record.ID] = s.Score
	}
	for _, m := range records {
		item := recordToMap(m)
		if score, ok := scoreByID[m.ID]; ok {
			item["score"] = score
		}
		results = append(results, item)
	}

	out := map[string]interface{}{"results": results, "count": len(results)}
	if resolved.SearchMeta != nil {
		if resolved.SearchMeta.SkippedIncompatibleVectors > 0 {
			out["skipped_incompatible_vectors"] = resolved.SearchMeta.SkippedIncompatibleVectors
		}
		if resolved.SearchMeta.Note != "" {
			out["note"] = resolved.SearchMeta.Note
		}
	}
	return out, nil
}

// summarize implements Summarize/RET: select rows via target, sort by
// recency, pass their texts to the generation provider (§4.5).
func (e *Engine) summarize(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.SummarizeArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: summarize requires SummarizeArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}
	records, err := e.fetchMany(ctx, resolved.IDs)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })

	maxTokens := args.MaxTokens
	if maxTokens <= 0 || maxTokens > 2000 {
		maxTokens = 2000
	}

	texts := make([]string, len(records))
	sourceIDs := make([]int64, len(records))
	for i, m := range records {
		texts[i] = m.Text
		sourceIDs[i] = m.ID
	}

	prompt := buildSummarizePrompt(texts, args.Focus, maxTokens)
	var summary string
	if e.Generation != nil {
		summary, err = e.Generation.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("engine: summarize generation: %w", err)
		}
	}

	model := ""
	if e.Generation != nil {
		model = e.Generation.Model()
	}

	return map[string]interface{}{
		"summary":    summary,
		"count":      len(records),
		"source_ids": sourceIDs,
		"model":      model,
	}, nil
}

func buildSummarizePrompt(texts []string, focus string, maxTokens int) string {
	var b strings.Builder
	b.WriteString("Summarize the following memories")
	if focus != "" {
		fmt.Fprintf(&b, " with a focus on %q", focus)
	}
	fmt.Fprintf(&b, " in at most %d tokens:\n\n", maxTokens)
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return b.String()
}

// fetchMany loads each id, skipping ones that can no longer be found
// (e.g. raced deletion) rather than failing the whole Retrieve.
func (e *Engine) fetchMany(ctx context.Context, ids []int64) ([]*t2m.MemoryRecord, error) {
	out := make([]*t2m.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		m, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func recordToMap(m *t2m.MemoryRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":     m.ID,
		"text":   m.Text,
		"type":   m.Type,
		"tags":   m.Tags,
		"facets": m.Facets,
		"weight": m.Weight,
		"state":  m.State,
	}
}
