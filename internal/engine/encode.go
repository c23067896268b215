package engine

import (
	"context"
	"fmt"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

// encode implements Encode/ENC (§4.5).
func (e *Engine) encode(ctx context.Context, instr *t2m.IR) (map[string]interface{}, error) {
	args, ok := instr.Args.(*t2m.EncodeArgs)
	if !ok || args == nil {
		return nil, fmt.Errorf("engine: encode requires EncodeArgs")
	}

	m := &t2m.MemoryRecord{
		Text:         textify(args.Payload),
		Type:         args.Type,
		Tags:         args.Tags,
		Facets:       args.Facets,
		Source:       args.Source,
		ExpireAt:     args.ExpireAt,
		ExpireAction: args.ExpireAction,
		ExpireReason: args.ExpireReason,
		Permissions: t2m.Permissions{
			ReadLevel:      args.ReadLevel,
			WriteLevel:     args.WriteLevel,
			ReadWhitelist:  args.ReadWhitelist,
			ReadBlacklist:  args.ReadBlacklist,
			WriteWhitelist: args.WriteWhitelist,
			WriteBlacklist: args.WriteBlacklist,
		},
	}
	if m.Type == "" {
		m.Type = t2m.CategoryGeneric
	}
	if args.Subject != "" || args.Location != "" || args.Topic != "" {
		if args.Subject != "" {
			m.Facets.Subject = args.Subject
		}
		if args.Location != "" {
			m.Facets.Location = args.Location
		}
		if args.Topic != "" {
			m.Facets.Topic = args.Topic
		}
	}

	var dim int
	var embedModel, embedProvider string
	if !args.SkipEmbedding && e.Embedding != nil {
		vec, err := e.Embedding.Embed(ctx, m.Text)
		if err != nil {
			return nil, fmt.Errorf("engine: encode embedding: %w", err)
		}
		m.Embedding = t2m.Embedding{Vector: vec, Dim: len(vec), Model: e.Embedding.Model(), Provider: providerName(e.Embedding)}
		dim, embedModel, embedProvider = len(vec), m.Embedding.Model, m.Embedding.Provider
	}

	id, err := e.Store.Insert(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("engine: encode insert: %w", err)
	}

	return map[string]interface{}{
		"inserted_id":       id,
		"embedding_dim":     dim,
		"embedding_model":   embedModel,
		"embedding_provider": embedProvider,
	}, nil
}

// textify collapses an Encode payload union into the text stored and
// embedded. A url payload stores the URL itself (no fetch); a structured
// payload is rendered as its values joined, matching the "embed the
// textified payload" contract without requiring a fetch/render dependency
// the evaluation harness has no use for.
func textify(p t2m.Payload) string {
	if p.Text != "" {
		return p.Text
	}
	if p.URL != "" {
		return p.URL
	}
	out := ""
	for k, v := range p.Structured {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s: %v", k, v)
	}
	return out
}

// providerName reports the provider kind embedded into
// MemoryRecord.Embedding.Provider, distinct from the model name.
func providerName(e llmprovider.EmbeddingProvider) string {
	switch e.(type) {
	case *llmprovider.Mock:
		return "mock"
	case *llmprovider.Ollama:
		return "ollama"
	case *llmprovider.OpenAI:
		return "openai"
	default:
		return "unknown"
	}
}
