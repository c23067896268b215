package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/text2mem/benchctl/internal/store"
	"github.com/text2mem/benchctl/internal/t2m"
)

// candidatePool loads every non-deleted row, optionally restricted to
// opts.FilterIDs (the filter+search pre-condition case, §4.5).
func (s *Store) candidatePool(ctx context.Context, opts store.SearchOptions) ([]*t2m.MemoryRecord, error) {
	q := "SELECT " + memoryColumns + " FROM memory WHERE deleted = 0"
	var args []interface{}
	if len(opts.FilterIDs) > 0 {
		placeholders := make([]string, len(opts.FilterIDs))
		for i, id := range opts.FilterIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		q += " AND id IN (" + strings.Join(placeholders, ",") + ")"
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: candidate pool: %w", err)
	}
	defer rows.Close()

	var out []*t2m.MemoryRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func normalizeOpts(opts *store.SearchOptions) {
	if opts.Alpha == 0 && opts.Beta == 0 {
		opts.Alpha, opts.Beta, opts.PhraseBonus = 0.7, 0.3, 0.2
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
}

// keywordScore is 1.0 on a whole-phrase case-insensitive substring match,
// else the fraction of query tokens present in the text (§4.5).
func keywordScore(query, text string) (score float64, exactPhrase bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(text)
	if q == "" {
		return 0, false
	}
	if strings.Contains(t, q) {
		return 1.0, true
	}
	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return 0, false
	}
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(t, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens)), false
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// referenceDimension returns the embedding dimension shared by most
// candidate rows, used to detect a query-vector/store dimension mismatch.
func referenceDimension(candidates []*t2m.MemoryRecord) int {
	counts := map[int]int{}
	for _, c := range candidates {
		if c.Embedding.Dim > 0 {
			counts[c.Embedding.Dim]++
		}
	}
	best, bestCount := 0, 0
	for dim, n := range counts {
		if n > bestCount {
			best, bestCount = dim, n
		}
	}
	return best
}

// rank scores every candidate against the query text/vector per §4.5's
// hybrid formula and returns the top opts.Limit, descending by score.
func rank(candidates []*t2m.MemoryRecord, queryText string, queryVector []float64, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta) {
	meta := &store.SearchMeta{}

	if len(queryVector) > 0 {
		refDim := referenceDimension(candidates)
		if refDim > 0 && len(queryVector) != refDim {
			meta.Note = "query_vector_dimension_mismatch"
			return nil, meta
		}
	}

	scored := make([]store.ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		var cos float64
		if len(queryVector) > 0 {
			if c.Embedding.Dim != len(queryVector) || c.Embedding.Dim == 0 {
				meta.SkippedIncompatibleVectors++
				continue
			}
			cos = cosineSimilarity(queryVector, c.Embedding.Vector)
		}

		kw, exact := keywordScore(queryText, c.Text)
		sim := opts.Alpha*cos + opts.Beta*kw
		if exact {
			sim += opts.PhraseBonus
		}
		if sim > 1.0 {
			sim = 1.0
		}
		scored = append(scored, store.ScoredRecord{Record: c, Score: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, meta
}

// FullTextSearch ranks by keyword overlap only (queryVector is empty, so
// cosine contributes nothing to the blended score).
func (s *Store) FullTextSearch(ctx context.Context, query string, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	normalizeOpts(&opts)
	candidates, err := s.candidatePool(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	results, meta := rank(candidates, query, nil, opts)
	return results, meta, nil
}

// VectorSearch ranks by cosine similarity only (empty query text
// contributes no keyword score).
func (s *Store) VectorSearch(ctx context.Context, query []float64, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	normalizeOpts(&opts)
	candidates, err := s.candidatePool(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	results, meta := rank(candidates, "", query, opts)
	return results, meta, nil
}

// HybridSearch blends cosine similarity and keyword overlap per §4.5's
// sim = α·cosine + β·keyword_score + phrase_bonus·exact_phrase formula.
func (s *Store) HybridSearch(ctx context.Context, text string, vector []float64, opts store.SearchOptions) ([]store.ScoredRecord, *store.SearchMeta, error) {
	normalizeOpts(&opts)
	candidates, err := s.candidatePool(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	results, meta := rank(candidates, text, vector, opts)
	return results, meta, nil
}
