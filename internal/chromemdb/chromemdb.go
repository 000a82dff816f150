package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"image-rag/internal/config"
	"image-rag/internal/models"
	"image-rag/internal/vectorstore"
)

// metadata keys of a stored image
const (
	keySourceDoc     = "source_doc"
	keyPage          = "page"
	keyTitle         = "title"
	keyDescription   = "description"
	keyDocAuthor     = "docAuthor"
	keyChunkSource   = "chunkSource"
	keyOCRText       = "ocrText"
	keyEmbeddingText = "embeddingText"
	keyKind          = "kind"
)

const (
	kindImage      = "image"
	kindDimensions = "dimensions"

	// dimensionsID names the marker document whose vector length records the
	// collection's embedding size across restarts.
	dimensionsID = "_imagerag_dimensions"
)

// Store keeps image entries in a chromem-go collection; the document ID is the image path.
// chromem normalizes vectors on insert, so stored vectors come back with unit length.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimensions int
	mu         sync.Mutex
}

var _ vectorstore.Store = (*Store)(nil)

// New opens (or creates) the persistent database at cfg.Path.
func New(cfg config.ChromemConfig) (*Store, error) {
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return newStore(db, cfg.Collection, cfg.Dimensions)
}

// NewInMemory is New without persistence.
func NewInMemory(collection string, dimensions int) (*Store, error) {
	return newStore(chromem.NewDB(), collection, dimensions)
}

func newStore(db *chromem.DB, name string, dimensions int) (*Store, error) {
	c, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	if marker, err := c.GetByID(context.Background(), dimensionsID); err == nil && len(marker.Embedding) > 0 {
		if dimensions != len(marker.Embedding) {
			log.Debug().Int("configured", dimensions).Int("stored", len(marker.Embedding)).Msg("Using stored embedding dimensions")
		}
		dimensions = len(marker.Embedding)
	}
	log.Debug().Str("collection", name).Int("count", c.Count()).Int("dimensions", dimensions).Msg("Opened chromem collection")
	return &Store{db: db, collection: c, dimensions: dimensions}, nil
}

// Read lists the collection by querying it with a probe vector for every image document.
func (s *Store) Read(ctx context.Context) []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.query(ctx, map[string]string{keyKind: kindImage})
	if err != nil {
		log.Warn().Err(err).Str("collection", s.collection.Name).Msg("Failed to list chromem collection, treating as empty")
		return []models.Entry{}
	}
	return entries
}

func (s *Store) Upsert(ctx context.Context, entry models.Entry) error {
	return s.UpsertAll(ctx, []models.Entry{entry})
}

func (s *Store) UpsertAll(ctx context.Context, entries []models.Entry) error {
	if err := vectorstore.Validate(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	// last write for a path wins, as in the file store
	byID := make(map[string]chromem.Document, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, seen := byID[e.ImagePath]; !seen {
			order = append(order, e.ImagePath)
		}
		byID[e.ImagePath] = toDocument(e)
	}
	docs := make([]chromem.Document, 0, len(order))
	for _, id := range order {
		docs = append(docs, byID[id])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dims := len(docs[0].Embedding)
	if _, err := s.collection.GetByID(ctx, dimensionsID); dims > 0 && (err != nil || dims != s.dimensions) {
		docs = append(docs, dimensionsMarker(dims))
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	s.dimensions = dims
	return nil
}

func dimensionsMarker(dims int) chromem.Document {
	vec := make([]float32, dims)
	vec[0] = 1
	return chromem.Document{
		ID:        dimensionsID,
		Embedding: vec,
		Metadata:  map[string]string{keyKind: kindDimensions},
	}
}

func (s *Store) DeleteBySource(ctx context.Context, sourceDoc string) ([]models.Entry, error) {
	if sourceDoc == "" {
		return []models.Entry{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	where := map[string]string{keySourceDoc: sourceDoc, keyKind: kindImage}
	removed, err := s.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return removed, nil
	}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return nil, fmt.Errorf("failed to delete documents of %s: %w", sourceDoc, err)
	}
	return removed, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) query(ctx context.Context, where map[string]string) ([]models.Entry, error) {
	count := s.collection.Count()
	if count == 0 {
		return []models.Entry{}, nil
	}
	if s.dimensions <= 0 {
		return nil, fmt.Errorf("unknown embedding dimensions for collection %s", s.collection.Name)
	}
	probe := make([]float32, s.dimensions)
	probe[0] = 1

	results, err := s.collection.QueryEmbedding(ctx, probe, count, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	entries := make([]models.Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, fromResult(r))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ImagePath < entries[j].ImagePath })
	return entries, nil
}

func toDocument(e models.Entry) chromem.Document {
	page := ""
	if e.Page != nil {
		page = strconv.Itoa(*e.Page)
	}
	return chromem.Document{
		ID:        e.ImagePath,
		Content:   e.Metadata.EmbeddingText,
		Embedding: e.Vector,
		Metadata: map[string]string{
			keySourceDoc:     e.SourceDoc,
			keyPage:          page,
			keyTitle:         e.Metadata.Title,
			keyDescription:   e.Metadata.Description,
			keyDocAuthor:     e.Metadata.DocAuthor,
			keyChunkSource:   e.Metadata.ChunkSource,
			keyOCRText:       e.Metadata.OCRText,
			keyEmbeddingText: e.Metadata.EmbeddingText,
			keyKind:          kindImage,
		},
	}
}

func fromResult(r chromem.Result) models.Entry {
	m := r.Metadata
	var page *int
	if n, err := strconv.Atoi(m[keyPage]); err == nil {
		page = models.PageRef(n)
	}
	return models.Entry{
		Vector:    r.Embedding,
		ImagePath: r.ID,
		SourceDoc: m[keySourceDoc],
		Page:      page,
		Metadata: models.Metadata{
			Title:         m[keyTitle],
			Description:   m[keyDescription],
			DocAuthor:     m[keyDocAuthor],
			ChunkSource:   m[keyChunkSource],
			OCRText:       m[keyOCRText],
			EmbeddingText: m[keyEmbeddingText],
		},
	}
}
