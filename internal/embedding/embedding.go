package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"image-rag/internal/models"
)

// ErrUnreachable is returned when the liveness probe of the embedding service fails.
var ErrUnreachable = errors.New("embedding service could not be reached")

type Options struct {
	BaseURL        string
	Model          string
	AuthToken      string
	Timeout        time.Duration
	MaxRetries     uint
	RetryInterval  time.Duration
	RequestsPerSec float64
	HTTPClient     *http.Client
}

// Client talks to an Ollama style /api/embeddings endpoint, one prompt per request.
type Client struct {
	base          string
	model         string
	token         string
	http          *http.Client
	maxRetries    uint
	retryInterval time.Duration
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
}

var _ embeddings.Embedder = (*Client)(nil)

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	retries := opts.MaxRetries
	if retries == 0 {
		retries = 1
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	c := &Client{
		base:          strings.TrimRight(opts.BaseURL, "/"),
		model:         opts.Model,
		token:         strings.TrimPrefix(opts.AuthToken, "Bearer "),
		http:          httpClient,
		maxRetries:    retries,
		retryInterval: interval,
		limiter:       rate.NewLimiter(limit, 1),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	log.Debug().Str("base_url", c.base).Str("model", c.model).Msg("Created embedding client")
	return c
}

// EmbedQuery embeds a single text as a batch of one.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments returns one vector per text in input order. Any failed item fails
// the whole batch.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := probe(ctx, c.http, c.base); err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for i, text := range Sanitize(texts) {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed item %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) embedOne(ctx context.Context, prompt string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	op := func() ([]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.post(ctx, body)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res.([]float32), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxRetries))
}

// post returns a permanent error for anything a retry cannot fix.
func (c *Client) post(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
	}
	if len(out.Embedding) == 0 {
		return nil, backoff.Permanent(errors.New("embedding response has no embedding field"))
	}
	return out.Embedding, nil
}

// Sanitize replaces blank texts with a fixed placeholder.
func Sanitize(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			t = models.EmptyEmbeddingPlaceholder
		}
		out[i] = t
	}
	return out
}

func probe(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrUnreachable, base, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w at %s: %v", ErrUnreachable, base, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w at %s: status %d", ErrUnreachable, base, resp.StatusCode)
	}
	return nil
}
