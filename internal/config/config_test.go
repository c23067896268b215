package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/text2mem/benchctl/internal/config"
)

func TestLoad_DefaultSearchTuningMatchesEngineBuiltins(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.Equal(t, 0.3, cfg.Search.Beta)
	assert.Equal(t, 0.2, cfg.Search.PhraseBonus)
	assert.Equal(t, 10, cfg.Search.DefaultK)
}

func TestLoad_CanOverrideSearchAlpha(t *testing.T) {
	t.Setenv("TEXT2MEM_SEARCH_ALPHA", "0.9")
	cfg := config.Load()
	assert.Equal(t, 0.9, cfg.Search.Alpha)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("TEXT2MEM_MAX_TOKENS", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, 1024, cfg.Generation.MaxTokens)
}

func TestLoad_UseAsyncRecognizesTruthyValues(t *testing.T) {
	t.Setenv("TEXT2MEM_BENCH_GEN_USE_ASYNC", "YES")
	cfg := config.Load()
	assert.True(t, cfg.Pipeline.UseAsync)
}

func TestResolvedEmbeddingProvider_PrefersExplicitOverBase(t *testing.T) {
	t.Setenv("TEXT2MEM_PROVIDER", "ollama")
	t.Setenv("TEXT2MEM_EMBEDDING_PROVIDER", "openai")
	cfg := config.Load()
	assert.Equal(t, "openai", cfg.ResolvedEmbeddingProvider())
	assert.Equal(t, "ollama", cfg.ResolvedGenerationProvider())
}

func TestResolvedGenerationProvider_ModelServiceTakesPrecedence(t *testing.T) {
	t.Setenv("MODEL_SERVICE", "mock")
	t.Setenv("TEXT2MEM_PROVIDER", "ollama")
	cfg := config.Load()
	assert.Equal(t, "mock", cfg.ResolvedGenerationProvider())
}
