package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-rag/internal/config"
)

type fakeOllama struct {
	mu      sync.Mutex
	prompts []string
	auth    []string
	posts   atomic.Int32
	handler func(w http.ResponseWriter, req embedRequest)
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		_, _ = w.Write([]byte("Ollama is running"))
	case r.Method == http.MethodPost && r.URL.Path == "/api/embeddings":
		f.posts.Add(1)
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Prompt)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		if f.handler != nil {
			f.handler(w, req)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeOllama) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:       srv.URL,
		Model:         "test-model",
		AuthToken:     "Bearer secret",
		Timeout:       5 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
	})
}

func TestEmbedDocumentsPreservesOrder(t *testing.T) {
	f := &fakeOllama{}
	c := newTestClient(t, f)

	vectors, err := c.EmbedDocuments(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{3, 1}, vectors[1])
	assert.Equal(t, []float32{2, 1}, vectors[2])
	assert.Equal(t, []string{"Bearer secret", "Bearer secret", "Bearer secret"}, f.auth)
}

func TestEmbedSubstitutesPlaceholder(t *testing.T) {
	f := &fakeOllama{}
	c := newTestClient(t, f)

	_, err := c.EmbedDocuments(context.Background(), []string{"", "  \n", "real"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Empty description", "Empty description", "real"}, f.prompts)
}

func TestEmbedQueryIsBatchOfOne(t *testing.T) {
	f := &fakeOllama{}
	c := newTestClient(t, f)

	vec, err := c.EmbedQuery(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, vec)
	assert.EqualValues(t, 1, f.posts.Load())
}

func TestEmbedUnreachableNamesAddress(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: base, Model: "m", Timeout: time.Second})
	_, err := c.EmbedDocuments(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), base)
}

func TestEmbedProbeNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Model: "m"})
	_, err := c.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestEmbedMalformedResponseAbortsBatch(t *testing.T) {
	f := &fakeOllama{}
	f.handler = func(w http.ResponseWriter, req embedRequest) {
		if req.Prompt == "bad" {
			_, _ = w.Write([]byte(`{"vector":[1,2]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1}})
	}
	c := newTestClient(t, f)

	vectors, err := c.EmbedDocuments(context.Background(), []string{"ok", "bad", "never"})
	require.Error(t, err)
	assert.Nil(t, vectors)
	assert.Contains(t, err.Error(), "no embedding field")
	// malformed responses are not retried and the batch stops at the failing item
	assert.EqualValues(t, 2, f.posts.Load())
}

func TestEmbedClientErrorNotRetried(t *testing.T) {
	f := &fakeOllama{}
	f.handler = func(w http.ResponseWriter, req embedRequest) {
		http.Error(w, "model not found", http.StatusNotFound)
	}
	c := newTestClient(t, f)

	_, err := c.EmbedQuery(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
	assert.EqualValues(t, 1, f.posts.Load())
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	f := &fakeOllama{}
	var calls atomic.Int32
	f.handler = func(w http.ResponseWriter, req embedRequest) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.5}})
	}
	c := newTestClient(t, f)

	vec, err := c.EmbedQuery(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.EqualValues(t, 3, f.posts.Load())
}

func TestEmbedEmptyInputMakesNoRequest(t *testing.T) {
	f := &fakeOllama{}
	c := newTestClient(t, f)

	vectors, err := c.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, f.posts.Load())
}

func TestEmbedCancelled(t *testing.T) {
	f := &fakeOllama{}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.EmbedQuery(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

type staticEmbedder struct {
	seen []string
	err  error
}

func (s *staticEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.seen = texts
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1)}
	}
	return out, nil
}

func (s *staticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestProbedSanitizesAndProbes(t *testing.T) {
	srv := httptest.NewServer(&fakeOllama{})
	defer srv.Close()

	inner := &staticEmbedder{}
	p := NewProbed(srv.URL, srv.Client(), inner)
	vectors, err := p.EmbedDocuments(context.Background(), []string{"", "hello"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, []string{"Empty description", "hello"}, inner.seen)

	srv.Close()
	_, err = p.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestProbedPropagatesInnerError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProbed("", nil, &staticEmbedder{err: boom})
	_, err := p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "ollama", BaseURL: "http://127.0.0.1:11434", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, e)

	e, err = New(config.EmbeddingConfig{Provider: "langchain", BaseURL: "http://127.0.0.1:11434", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &Probed{}, e)

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}
