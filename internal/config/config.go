// Package config loads T2M's configuration from environment variables with
// the TEXT2MEM_ prefix (plus a handful of provider-standard names), grounded
// on memento's internal/config/config.go getEnv/getEnvInt/getEnvBool pattern
// and buildBaseConfig shape, generalized from Memento's server/LLM/backup
// settings to the generation/evaluation pipeline's provider, tuning, and
// concurrency knobs (§6).
package config

import (
	"os"
	"strconv"
	"strings"
)

// ProviderConfig selects and names the embedding/generation backends.
type ProviderConfig struct {
	ModelService       string // MODEL_SERVICE (legacy alias, checked before TEXT2MEM_PROVIDER)
	Provider           string // TEXT2MEM_PROVIDER: mock | ollama | openai | auto
	EmbeddingProvider  string // TEXT2MEM_EMBEDDING_PROVIDER
	GenerationProvider string // TEXT2MEM_GENERATION_PROVIDER
	EmbeddingModel     string // TEXT2MEM_EMBEDDING_MODEL
	GenerationModel    string // TEXT2MEM_GENERATION_MODEL
}

// EndpointConfig carries the credentials and base URLs the providers dial.
type EndpointConfig struct {
	OllamaBaseURL      string // OLLAMA_BASE_URL
	OpenAIAPIKey       string // OPENAI_API_KEY
	OpenAIAPIBase      string // OPENAI_API_BASE
	OpenAIOrganization string // OPENAI_ORGANIZATION
}

// GenerationTuning parametrises every generation call the stage generators
// issue.
type GenerationTuning struct {
	Temperature    float64       // TEXT2MEM_TEMPERATURE
	MaxTokens      int           // TEXT2MEM_MAX_TOKENS
	TopP           float64       // TEXT2MEM_TOP_P
	RequestTimeout int           // TEXT2MEM_REQUEST_TIMEOUT, seconds
	MaxRetries     int           // TEXT2MEM_MAX_RETRIES
	BatchSize      int           // TEXT2MEM_BATCH_SIZE
}

// SearchTuning parametrises the hybrid ranking formula (§4.5), mirrored by
// engine.SearchTuning so a loaded Config can be handed straight to an
// Engine.
type SearchTuning struct {
	Alpha        float64 // TEXT2MEM_SEARCH_ALPHA
	Beta         float64 // TEXT2MEM_SEARCH_BETA
	PhraseBonus  float64 // TEXT2MEM_SEARCH_PHRASE_BONUS
	DefaultLimit int     // TEXT2MEM_SEARCH_DEFAULT_LIMIT
	MaxLimit     int     // TEXT2MEM_SEARCH_MAX_LIMIT
	DefaultK     int     // TEXT2MEM_SEARCH_DEFAULT_K
}

// PipelineConfig parametrises TaskAllocator/PipelineController concurrency
// and resumability (§4.1, §4.4, §5).
type PipelineConfig struct {
	MaxConcurrent          int  // TEXT2MEM_BENCH_GEN_MAX_CONCURRENT
	CheckpointBatch        int  // TEXT2MEM_BENCH_GEN_CHECKPOINT_BATCH
	UseAsync               bool // TEXT2MEM_BENCH_GEN_USE_ASYNC
	RetryMax               int  // TEXT2MEM_BENCH_GEN_RETRY_MAX
	RetryDelaySeconds      int  // TEXT2MEM_BENCH_GEN_RETRY_DELAY
}

// EvaluatorConfig parametrises TestRunner (§4.6).
type EvaluatorConfig struct {
	TimeoutSeconds int    // TEXT2MEM_BENCH_TIMEOUT
	Split          string // TEXT2MEM_BENCH_SPLIT
	Mode           string // TEXT2MEM_BENCH_MODE
	Verbose        bool   // TEXT2MEM_BENCH_VERBOSE
}

// Config is the full set of T2M configuration loaded from the environment.
type Config struct {
	Provider   ProviderConfig
	Endpoints  EndpointConfig
	Generation GenerationTuning
	Search     SearchTuning
	Pipeline   PipelineConfig
	Evaluator  EvaluatorConfig
}

// Load reads every environment variable enumerated in §6 and returns a
// fully-populated Config with sensible defaults for anything unset.
func Load() *Config {
	return &Config{
		Provider: ProviderConfig{
			ModelService:       getEnv("MODEL_SERVICE", ""),
			Provider:           getEnv("TEXT2MEM_PROVIDER", "auto"),
			EmbeddingProvider:  getEnv("TEXT2MEM_EMBEDDING_PROVIDER", ""),
			GenerationProvider: getEnv("TEXT2MEM_GENERATION_PROVIDER", ""),
			EmbeddingModel:     getEnv("TEXT2MEM_EMBEDDING_MODEL", ""),
			GenerationModel:    getEnv("TEXT2MEM_GENERATION_MODEL", ""),
		},
		Endpoints: EndpointConfig{
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIAPIBase:      getEnv("OPENAI_API_BASE", ""),
			OpenAIOrganization: getEnv("OPENAI_ORGANIZATION", ""),
		},
		Generation: GenerationTuning{
			Temperature:    getEnvFloat("TEXT2MEM_TEMPERATURE", 0.2),
			MaxTokens:      getEnvInt("TEXT2MEM_MAX_TOKENS", 1024),
			TopP:           getEnvFloat("TEXT2MEM_TOP_P", 1.0),
			RequestTimeout: getEnvInt("TEXT2MEM_REQUEST_TIMEOUT", 60),
			MaxRetries:     getEnvInt("TEXT2MEM_MAX_RETRIES", 3),
			BatchSize:      getEnvInt("TEXT2MEM_BATCH_SIZE", 10),
		},
		Search: SearchTuning{
			Alpha:        getEnvFloat("TEXT2MEM_SEARCH_ALPHA", 0.7),
			Beta:         getEnvFloat("TEXT2MEM_SEARCH_BETA", 0.3),
			PhraseBonus:  getEnvFloat("TEXT2MEM_SEARCH_PHRASE_BONUS", 0.2),
			DefaultLimit: getEnvInt("TEXT2MEM_SEARCH_DEFAULT_LIMIT", 10),
			MaxLimit:     getEnvInt("TEXT2MEM_SEARCH_MAX_LIMIT", 100),
			DefaultK:     getEnvInt("TEXT2MEM_SEARCH_DEFAULT_K", 10),
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:     getEnvInt("TEXT2MEM_BENCH_GEN_MAX_CONCURRENT", 4),
			CheckpointBatch:   getEnvInt("TEXT2MEM_BENCH_GEN_CHECKPOINT_BATCH", 10),
			UseAsync:          getEnvBool("TEXT2MEM_BENCH_GEN_USE_ASYNC", false),
			RetryMax:          getEnvInt("TEXT2MEM_BENCH_GEN_RETRY_MAX", 3),
			RetryDelaySeconds: getEnvInt("TEXT2MEM_BENCH_GEN_RETRY_DELAY", 2),
		},
		Evaluator: EvaluatorConfig{
			TimeoutSeconds: getEnvInt("TEXT2MEM_BENCH_TIMEOUT", 30),
			Split:          getEnv("TEXT2MEM_BENCH_SPLIT", ""),
			Mode:           getEnv("TEXT2MEM_BENCH_MODE", "full"),
			Verbose:        getEnvBool("TEXT2MEM_BENCH_VERBOSE", false),
		},
	}
}

// ResolvedEmbeddingProvider returns TEXT2MEM_EMBEDDING_PROVIDER when set,
// else MODEL_SERVICE, else TEXT2MEM_PROVIDER, else "auto" (§6: "Provider
// selection").
func (c *Config) ResolvedEmbeddingProvider() string {
	if c.Provider.EmbeddingProvider != "" {
		return c.Provider.EmbeddingProvider
	}
	return c.resolvedBaseProvider()
}

// ResolvedGenerationProvider applies the same precedence for generation.
func (c *Config) ResolvedGenerationProvider() string {
	if c.Provider.GenerationProvider != "" {
		return c.Provider.GenerationProvider
	}
	return c.resolvedBaseProvider()
}

func (c *Config) resolvedBaseProvider() string {
	if c.Provider.ModelService != "" {
		return c.Provider.ModelService
	}
	if c.Provider.Provider != "" {
		return c.Provider.Provider
	}
	return "auto"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
