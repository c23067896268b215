// Package store defines the composable storage interfaces for the memory
// engine (§3, §6) and the option/result types shared by every backend.
// Concrete backends live in the sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/text2mem/benchctl/internal/t2m"
)

// Sentinel errors returned by every backend.
var (
	ErrNotFound            = errors.New("memory: resource not found")
	ErrInvalidInput        = errors.New("memory: invalid input")
	ErrDimensionMismatch   = errors.New("memory: embedding dimension mismatch")
)

// ListOptions provides pagination and filtering for List.
type ListOptions struct {
	Page           int
	Limit          int
	SortBy         string
	SortOrder      string
	IncludeDeleted bool
	OnlyDeleted    bool
	Type           string
}

// Normalize applies defaults and whitelists SortBy/SortOrder against SQL
// injection, the same way memento's ListOptions.Normalize does.
func (o *ListOptions) Normalize() {
	allowed := map[string]bool{
		"id": true, "created_at": true, "updated_at": true, "weight": true,
	}
	if !allowed[o.SortBy] {
		o.SortBy = "id"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "asc"
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
}

// Offset computes the SQL OFFSET for the current page.
func (o *ListOptions) Offset() int { return (o.Page - 1) * o.Limit }

// PaginatedResult is a generic page of results.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
}

// SearchOptions parametrise FullTextSearch/VectorSearch/HybridSearch.
type SearchOptions struct {
	Limit             int
	Alpha             float64
	Beta              float64
	PhraseBonus       float64
	FilterIDs         []int64 // optional pre-condition id set (filter+search)
}

// SearchMeta is returned alongside search results, carrying the notes
// spec §4.5/§7 require to be observable rather than silently dropped.
type SearchMeta struct {
	SkippedIncompatibleVectors int
	Note                       string
}

// MemoryStore is the core CRUD + lifecycle + lineage + search interface
// implemented by the sqlite and postgres backends.
type MemoryStore interface {
	Insert(ctx context.Context, m *t2m.MemoryRecord) (int64, error)
	Get(ctx context.Context, id int64) (*t2m.MemoryRecord, error)
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[t2m.MemoryRecord], error)
	Update(ctx context.Context, m *t2m.MemoryRecord) error
	SoftDelete(ctx context.Context, id int64) error
	HardDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error

	UpdateState(ctx context.Context, id int64, state t2m.LifecycleState) error

	FullTextSearch(ctx context.Context, query string, opts SearchOptions) ([]ScoredRecord, *SearchMeta, error)
	VectorSearch(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredRecord, *SearchMeta, error)
	HybridSearch(ctx context.Context, query string, vector []float64, opts SearchOptions) ([]ScoredRecord, *SearchMeta, error)

	FilterIDs(ctx context.Context, f *t2m.FilterSpec, now time.Time) ([]int64, error)

	Close() error
}

// ScoredRecord pairs a MemoryRecord with the similarity score it was
// ranked by (1.0 for plain filter/id lookups).
type ScoredRecord struct {
	Record *t2m.MemoryRecord
	Score  float64
}
