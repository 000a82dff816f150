package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"image-rag/internal/config"
)

// Probed puts the liveness probe and input sanitization in front of any embedder.
// An empty base skips the probe.
type Probed struct {
	base  string
	http  *http.Client
	inner embeddings.Embedder
}

var _ embeddings.Embedder = (*Probed)(nil)

func NewProbed(base string, httpClient *http.Client, inner embeddings.Embedder) *Probed {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Probed{base: strings.TrimRight(base, "/"), http: httpClient, inner: inner}
}

func (p *Probed) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if p.base != "" {
		if err := probe(ctx, p.http, p.base); err != nil {
			return nil, err
		}
	}
	vectors, err := p.inner.EmbedDocuments(ctx, Sanitize(texts))
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("failed to embed item %d: empty embedding", i)
		}
	}
	return vectors, nil
}

func (p *Probed) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// New builds the embedder selected by cfg.Provider: ollama (plain HTTP client),
// langchain (langchaingo ollama embedder) or openai (langchaingo, OpenAI compatible API).
func New(cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewClient(Options{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			AuthToken:      cfg.AuthToken,
			Timeout:        cfg.Timeout,
			MaxRetries:     cfg.MaxRetries,
			RequestsPerSec: cfg.RequestsPerSec,
		}), nil
	case "langchain":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		return wrap(cfg, cfg.BaseURL, llm)
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.AuthToken, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		// OpenAI compatible APIs have no liveness route at their base URL
		return wrap(cfg, "", llm)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func wrap(cfg config.EmbeddingConfig, probeURL string, client embeddings.EmbedderClient) (embeddings.Embedder, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Created langchaingo embedder")
	return NewProbed(probeURL, &http.Client{Timeout: cfg.Timeout}, embedder), nil
}
