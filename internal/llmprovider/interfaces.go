// Package llmprovider wraps the generation and embedding backends the
// pipeline calls into, each guarded by its own circuit breaker, grounded on
// internal/llm/interfaces.go, internal/llm/factory.go, and
// internal/llm/circuit_breaker.go.
package llmprovider

import "context"

// GenerationProvider issues single-string text completions and requests
// JSON-shaped output from the underlying model.
type GenerationProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// EmbeddingProvider turns text into a fixed-dimension embedding vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimension() int
}
