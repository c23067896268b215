package llmprovider

import "fmt"

// ProviderConfig selects and configures a generation/embedding provider
// pair, mirroring internal/llm/factory.go's switch-on-provider-name shape.
type ProviderConfig struct {
	Provider       string // "mock", "ollama", "openai", "anthropic"
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimension      int
	BaseURL        string
}

// NewGenerationProvider builds the GenerationProvider named by cfg.Provider.
func NewGenerationProvider(cfg ProviderConfig) (GenerationProvider, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMock(valueOr(cfg.Model, "mock-gen"), cfg.Dimension, nil), nil
	case "ollama":
		return NewOllama(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Dimension: cfg.Dimension}), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Dimension: cfg.Dimension}), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("llmprovider: unsupported generation provider %q", cfg.Provider)
	}
}

// NewEmbeddingProvider builds the EmbeddingProvider named by cfg.Provider.
// Anthropic has no embeddings endpoint, returning (nil, nil) the same way
// the teacher's NewEmbeddingGenerator does for that provider.
func NewEmbeddingProvider(cfg ProviderConfig) (EmbeddingProvider, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMock(valueOr(cfg.EmbeddingModel, "mock-embed"), cfg.Dimension, nil), nil
	case "ollama":
		return NewOllama(OllamaConfig{BaseURL: cfg.BaseURL, Model: valueOr(cfg.EmbeddingModel, "nomic-embed-text"), Dimension: cfg.Dimension}), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, EmbeddingModel: cfg.EmbeddingModel, BaseURL: cfg.BaseURL, Dimension: cfg.Dimension}), nil
	case "anthropic":
		return nil, nil
	default:
		return nil, fmt.Errorf("llmprovider: unsupported embedding provider %q", cfg.Provider)
	}
}

func valueOr(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
