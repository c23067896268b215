package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama talks to a local Ollama server for both generation and embedding,
// ported from internal/llm/ollama.go's request/response shapes.
type Ollama struct {
	baseURL string
	client  *http.Client
	gen     *Breaker
	embed   *Breaker
	model   string
	dim     int
	timeout time.Duration
}

// OllamaConfig configures an Ollama-backed provider pair.
type OllamaConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllama constructs an Ollama provider, applying the teacher's defaults
// (localhost:11434, 5s timeout) where config fields are left zero.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	return &Ollama{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		gen:     NewBreaker("ollama-generate", 3, 30*time.Second, 2),
		embed:   NewBreaker("ollama-embed", 3, 30*time.Second, 2),
		model:   cfg.Model,
		dim:     cfg.Dimension,
		timeout: cfg.Timeout,
	}
}

func (o *Ollama) Model() string   { return o.model }
func (o *Ollama) Dimension() int  { return o.dim }

// Complete sends a non-streaming completion request through the breaker.
func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := o.gen.Execute(ctx, func() (interface{}, error) {
		return o.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama: circuit open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (o *Ollama) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaGenerateRequest{Model: o.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return out.Response, nil
}

// Embed requests a single embedding vector through the breaker.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	result, err := o.embed.Execute(ctx, func() (interface{}, error) {
		return o.embedOne(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama: circuit open: %w", err)
		}
		return nil, err
	}
	return result.([]float64), nil
}

func (o *Ollama) embedOne(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: empty embeddings response")
	}

	vec := make([]float64, len(out.Embeddings[0]))
	for i, f := range out.Embeddings[0] {
		vec[i] = float64(f)
	}
	return vec, nil
}
