package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// minSplitChars is the custom strategy's tiny-text guard: splitCustom
// returns a text shorter than this (after trimming) as one single piece.
// Pieces produced by the heading, list or LLM splits are not checked
// against it.
const minSplitChars = 8

// split implements Split/STO: partitions one source row's text into
// several child rows under by_sentences, by_chunks, or custom, then links
// every child back to the parent via lineage and a split_from_{id} tag
// (§4.5).
func (e *Engine) split(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.SplitArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: split requires SplitArgs")
	}

	resolved, err := e.resolveTarget(ctx, instr.Target)
	if err != nil {
		return nil, err
	}
	if len(resolved.IDs) == 0 {
		return map[string]interface{}{"child_ids": []int64{}, "affected_rows": 0}, nil
	}

	var allChildIDs []int64
	for _, id := range resolved.IDs {
		parent, err := e.Store.Get(ctx, id)
		if err != nil {
			continue
		}

		var pieces []string
		switch args.Strategy {
		case t2m.SplitBySentences:
			pieces = splitBySentences(parent.Text, args.Params.BySentences)
		case t2m.SplitByChunks:
			pieces = splitByChunks(parent.Text, args.Params.ByChunks)
		case t2m.SplitCustom:
			pieces, err = e.splitCustom(ctx, parent.Text, args.Params.Custom)
			if err != nil {
				return nil, fmt.Errorf("engine: split custom %d: %w", id, err)
			}
		default:
			return nil, fmt.Errorf("engine: split unknown strategy %q", args.Strategy)
		}

		inherit := args.InheritAll == nil || *args.InheritAll
		childIDs, err := e.createSplitChildren(ctx, parent, pieces, inherit)
		if err != nil {
			return nil, err
		}
		allChildIDs = append(allChildIDs, childIDs...)
	}

	return map[string]interface{}{"child_ids": allChildIDs, "affected_rows": len(allChildIDs)}, nil
}

// createSplitChildren inserts one row per piece, inheriting tags/source/
// expiry from the parent when inherit is set, tagging each with
// split_from_{parent_id} and recording lineage both ways.
func (e *Engine) createSplitChildren(ctx context.Context, parent *t2m.MemoryRecord, pieces []string, inherit bool) ([]int64, error) {
	lineageTag := fmt.Sprintf("split_from_%d", parent.ID)
	childIDs := make([]int64, 0, len(pieces))

	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		child := &t2m.MemoryRecord{
			Text:           piece,
			Type:           parent.Type,
			LineageParents: []int64{parent.ID},
		}
		if inherit {
			child.Tags = append([]string{}, parent.Tags...)
			child.Facets = parent.Facets
			child.Source = parent.Source
			child.ExpireAt = parent.ExpireAt
			child.ExpireAction = parent.ExpireAction
			child.Permissions = parent.Permissions
		}
		child.AddTagUnique(lineageTag)

		if e.Embedding != nil {
			vec, err := e.Embedding.Embed(ctx, child.Text)
			if err != nil {
				return nil, fmt.Errorf("engine: split embed child: %w", err)
			}
			child.Embedding = t2m.Embedding{Vector: vec, Dim: len(vec), Model: e.Embedding.Model(), Provider: providerName(e.Embedding)}
		}

		id, err := e.Store.Insert(ctx, child)
		if err != nil {
			return nil, fmt.Errorf("engine: split insert child: %w", err)
		}
		childIDs = append(childIDs, id)
	}

	parent.LineageChildren = append(parent.LineageChildren, childIDs...)
	if err := e.Store.Update(ctx, parent); err != nil {
		return nil, fmt.Errorf("engine: split record parent lineage: %w", err)
	}
	return childIDs, nil
}

// splitBySentences tokenizes on terminal punctuation and groups the
// resulting sentences into chunks of at most MaxSentences each.
func splitBySentences(text string, p *t2m.BySentencesParams) []string {
	max := 1
	if p != nil && p.MaxSentences > 0 {
		max = p.MaxSentences
	}

	marked := sentenceBoundary.ReplaceAllString(text, "$1\x00")
	var sentences []string
	for _, s := range strings.Split(marked, "\x00") {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	var out []string
	for i := 0; i < len(sentences); i += max {
		end := i + max
		if end > len(sentences) {
			end = len(sentences)
		}
		out = append(out, strings.Join(sentences[i:end], " "))
	}
	return out
}

// splitByChunks partitions text by words into either fixed-size chunks
// (ChunkSize words each) or NumChunks near-equal partitions.
func splitByChunks(text string, p *t2m.ByChunksParams) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var size int
	switch {
	case p != nil && p.ChunkSize > 0:
		size = p.ChunkSize
	case p != nil && p.NumChunks > 0:
		size = (len(words) + p.NumChunks - 1) / p.NumChunks
	default:
		size = len(words)
	}
	if size < 1 {
		size = 1
	}

	var out []string
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

var (
	markdownHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+.*$`)
	listItemRe        = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
)

// splitCustom implements the markdown-heading -> list-item -> tiny-text
// guard -> LLM-delegated cascade: try the cheapest structural split first
// and only ask the generation model when the text carries no structure to
// exploit (§4.5).
func (e *Engine) splitCustom(ctx context.Context, text string, p *t2m.CustomSplitParams) ([]string, error) {
	if headings := markdownHeadingRe.FindAllStringIndex(text, -1); len(headings) > 1 {
		return splitAtIndices(text, headings), nil
	}

	if listItemRe.MatchString(text) {
		items := listItemRe.Split(text, -1)
		var pieces []string
		for _, it := range items {
			it = strings.TrimSpace(it)
			if it != "" {
				pieces = append(pieces, it)
			}
		}
		if len(pieces) > 1 {
			return pieces, nil
		}
	}

	if len(strings.TrimSpace(text)) < minSplitChars {
		return []string{text}, nil
	}

	if p != nil && p.BypassLLM {
		return splitByChunks(text, &t2m.ByChunksParams{NumChunks: 2}), nil
	}
	if e.Generation == nil {
		return []string{text}, nil
	}

	instruction := "Split the following text into logically distinct pieces. Respond with a JSON array of strings only."
	if p != nil && p.Instruction != "" {
		instruction = p.Instruction
	}
	prompt := fmt.Sprintf("%s\n\n%s", instruction, text)

	reply, err := e.Generation.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("custom split generation: %w", err)
	}

	var pieces []string
	if err := llmprovider.ParseJSON(reply, &pieces); err != nil {
		return []string{text}, nil
	}
	if p != nil && p.MaxSplits > 0 && len(pieces) > p.MaxSplits {
		pieces = pieces[:p.MaxSplits]
	}
	return pieces, nil
}

// splitAtIndices cuts text at each heading's start offset, producing one
// piece per heading section.
func splitAtIndices(text string, matches [][]int) []string {
	var out []string
	for i, m := range matches {
		start := m[0]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		out = append(out, text[start:end])
	}
	return out
}
