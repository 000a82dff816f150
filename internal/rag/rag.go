package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"image-rag/internal/models"
	"image-rag/internal/vectorstore"
)

// Retriever ranks stored images against a query by cosine similarity.
type Retriever struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	topK     int
}

func NewRetriever(store vectorstore.Store, embedder embeddings.Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = models.DefaultTopK
	}
	return &Retriever{store: store, embedder: embedder, topK: topK}
}

// Retrieve returns at most topK results with a positive, finite score, best first.
// A topK of zero or less uses the retriever default. Embedding errors are returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.Result, error) {
	if topK <= 0 {
		topK = r.topK
	}
	entries := r.store.Read(ctx)
	if len(entries) == 0 {
		return []models.Result{}, nil
	}

	q, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	type scored struct {
		entry models.Entry
		score float64
	}
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		s := Cosine(q, e.Vector)
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			continue
		}
		candidates = append(candidates, scored{entry: e, score: s})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]models.Result, 0, len(candidates))
	for i, c := range candidates {
		results = append(results, models.Result{
			ImagePath: c.entry.ImagePath,
			Page:      c.entry.Page,
			Score:     c.score,
			SourceDoc: c.entry.SourceDoc,
			Metadata:  c.entry.Metadata,
			Label:     fmt.Sprintf("Image %d", i+1),
		})
	}
	log.Debug().Str("query", query).Int("entries", len(entries)).Int("results", len(results)).Msg("Retrieved images")
	return results, nil
}

// Cosine is 0 when either vector has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
