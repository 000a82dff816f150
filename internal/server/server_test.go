package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-rag/internal/embedding"
	"image-rag/internal/extractor"
	"image-rag/internal/models"
	"image-rag/internal/pipeline"
	"image-rag/internal/rag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIngester struct {
	got pipeline.Request
}

func (f *fakeIngester) Ingest(_ context.Context, req pipeline.Request) *pipeline.Report {
	f.got = req
	return &pipeline.Report{RunID: "run-1", Type: req.Type, SourceDoc: req.Document.SourceKey(), Extracted: 2, Indexed: 2}
}

type fakeRetriever struct {
	results []models.Result
	err     error
	topK    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]models.Result, error) {
	f.topK = topK
	return f.results, f.err
}

type fakeAsker struct{}

func (fakeAsker) Ask(_ context.Context, query string, _ int) (*rag.Answer, error) {
	return &rag.Answer{Text: "answer to " + query}, nil
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h := New(&fakeIngester{}, &fakeRetriever{}, nil, 3).Router()
	w := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestIngestDetectsType(t *testing.T) {
	ing := &fakeIngester{}
	h := New(ing, &fakeRetriever{}, nil, 3).Router()

	w := do(t, h, http.MethodPost, "/v1/ingest", map[string]any{
		"file_path": "docs/report.pdf",
		"document":  map[string]any{"id": "1", "title": "Report", "location": "docs/report.json"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, extractor.PDF, ing.got.Type)
	assert.Equal(t, "Report", ing.got.Document.Title)

	var report pipeline.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 2, report.Indexed)
}

func TestIngestRejectsBadInput(t *testing.T) {
	h := New(&fakeIngester{}, &fakeRetriever{}, nil, 3).Router()

	w := do(t, h, http.MethodPost, "/v1/ingest", map[string]any{"type": "pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/v1/ingest", map[string]any{"type": "odt", "file_path": "a.odt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetrieve(t *testing.T) {
	ret := &fakeRetriever{results: []models.Result{{ImagePath: "a.png", Score: 0.5, Label: "Image 1"}}}
	h := New(&fakeIngester{}, ret, nil, 4).Router()

	w := do(t, h, http.MethodPost, "/v1/retrieve", map[string]any{"query": "chart"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, ret.topK)

	var body struct {
		Images  []models.Result `json:"images"`
		Context string          `json:"context"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Images, 1)
	assert.Contains(t, body.Context, "Image 1: a.png")
}

func TestRetrieveUnreachableEmbedding(t *testing.T) {
	ret := &fakeRetriever{err: fmt.Errorf("failed to embed query: %w", embedding.ErrUnreachable)}
	h := New(&fakeIngester{}, ret, nil, 3).Router()

	w := do(t, h, http.MethodPost, "/v1/retrieve", map[string]any{"query": "chart"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAsk(t *testing.T) {
	h := New(&fakeIngester{}, &fakeRetriever{}, nil, 3).Router()
	w := do(t, h, http.MethodPost, "/v1/ask", map[string]any{"query": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h = New(&fakeIngester{}, &fakeRetriever{}, fakeAsker{}, 3).Router()
	w = do(t, h, http.MethodPost, "/v1/ask", map[string]any{"query": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "answer to hi")
}
