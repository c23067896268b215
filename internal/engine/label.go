package engine

import (
	"context"
	"fmt"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

// label implements Label/STO: tag replace-or-append, facet deep-merge, and
// an optional generation-model tag suggestion pass (§4.5). A target that
// resolves to zero rows is not an error: affected_rows comes back 0.
func (e *Engine) label(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.LabelArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: label requires LabelArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}

	tags := args.Tags
	if args.AutoGenerateTags && e.Generation != nil {
		generated, err := e.suggestTags(ctx, resolved.IDs)
		if err == nil {
			tags = append(append([]string{}, tags...), generated...)
		}
	}

	affected := 0
	for _, id := range resolved.IDs {
		m, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}

		switch args.TagPolicy {
		case t2m.TagAppend:
			for _, t := range tags {
				m.AddTagUnique(t)
			}
		default:
			if len(tags) > 0 || args.TagPolicy == t2m.TagReplace {
				m.Tags = append([]string{}, tags...)
			}
		}

		mergeFacets(&m.Facets, args.Facets)

		if err := e.Store.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("engine: label update %d: %w", id, err)
		}
		affected++
	}

	return map[string]interface{}{"affected_rows": affected}, nil
}

// mergeFacets deep-merges a label's facets map into the facet columns,
// leaving unset keys untouched rather than overwriting the whole struct.
func mergeFacets(f *t2m.Facets, updates map[string]interface{}) {
	if updates == nil {
		return
	}
	if v, ok := updates["subject"].(string); ok {
		f.Subject = v
	}
	if v, ok := updates["location"].(string); ok {
		f.Location = v
	}
	if v, ok := updates["topic"].(string); ok {
		f.Topic = v
	}
	if v, ok := updates["time"].(string); ok {
		f.Time = v
	}
}

// suggestTags asks the generation provider for additional tags based on
// the target rows' text, tolerating a non-JSON reply by yielding no tags
// rather than failing the whole Label op.
func (e *Engine) suggestTags(ctx context.Context, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	m, err := e.Store.Get(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Suggest up to 5 short lowercase tags (JSON array of strings) for this memory:\n%s", m.Text)
	reply, err := e.Generation.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := llmprovider.ParseJSON(reply, &tags); err != nil {
		return nil, nil
	}
	return tags, nil
}
