package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"

	"image-rag/internal/extractor"
	"image-rag/internal/helper"
	"image-rag/internal/models"
	"image-rag/internal/ocr"
	"image-rag/internal/vectorstore"
)

// Request is one document to ingest. Type decides the extraction strategy.
type Request struct {
	Type     extractor.DocType `json:"type"`
	FilePath string            `json:"file_path"`
	Document models.Document   `json:"document"`
}

type Options struct {
	// image paths in the store are relative to RootDir
	RootDir string
	Workers int
}

// Pipeline turns documents into stored image vectors.
type Pipeline struct {
	extractors *extractor.Registry
	ocr        ocr.Engine
	embedder   embeddings.Embedder
	store      vectorstore.Store
	rootDir    string
	workers    int
}

func New(extractors *extractor.Registry, engine ocr.Engine, embedder embeddings.Embedder, store vectorstore.Store, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RootDir == "" {
		opts.RootDir = "."
	}
	return &Pipeline{
		extractors: extractors,
		ocr:        engine,
		embedder:   embedder,
		store:      store,
		rootDir:    opts.RootDir,
		workers:    opts.Workers,
	}
}

// Ingest never returns an error; failures are recorded in the report. Stale entries
// of the same source are removed first, and nothing is persisted if ctx is cancelled.
func (p *Pipeline) Ingest(ctx context.Context, req Request) *Report {
	report := &Report{
		Type:      req.Type,
		SourceDoc: req.Document.SourceKey(),
		StartedAt: time.Now(),
		Images:    []ImageOutcome{},
	}
	if id, err := helper.GenerateUUID(); err == nil {
		report.RunID = id
	}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		ev := log.Info()
		if report.Failed() {
			ev = log.Error()
		}
		ev.EmbedObject(report).Msg("Ingestion finished")
	}()

	ex, err := p.extractors.For(req.Type)
	if err != nil {
		return report.fail(KindExtract, err)
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		return report.fail(KindExtract, fmt.Errorf("document file: %w", err))
	}

	removed, err := p.cleanup(ctx, report.SourceDoc)
	if err != nil {
		return report.fail(KindStore, err)
	}
	report.Removed = removed

	descriptors, err := ex.Extract(ctx, req.FilePath, req.Document)
	if err != nil {
		return report.fail(kindOf(ctx, KindExtract), fmt.Errorf("failed to extract images: %w", err))
	}
	report.Extracted = len(descriptors)
	if len(descriptors) == 0 {
		log.Info().Str("source_doc", report.SourceDoc).Str("file", req.FilePath).Msg("No images discovered")
		return report
	}

	outcomes := make([]ImageOutcome, len(descriptors))
	entries := make([]*models.Entry, len(descriptors))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, desc := range descriptors {
		g.Go(func() error {
			outcomes[i], entries[i] = p.processImage(ctx, req.Document, desc)
			return nil
		})
	}
	_ = g.Wait()
	report.Images = outcomes

	if err := ctx.Err(); err != nil {
		return report.fail(KindCancelled, err)
	}

	batch := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			batch = append(batch, *e)
		}
	}
	if err := p.store.UpsertAll(ctx, batch); err != nil {
		return report.fail(KindStore, fmt.Errorf("failed to persist image vectors: %w", err))
	}
	for i := range report.Images {
		if entries[i] != nil {
			report.Images[i].Indexed = true
			report.Indexed++
		}
	}
	return report
}

func (p *Pipeline) processImage(ctx context.Context, doc models.Document, desc models.ImageDescriptor) (ImageOutcome, *models.Entry) {
	out := ImageOutcome{ImagePath: desc.ImagePath, Page: desc.Page, OCR: ocr.StatusSkipped}
	if err := ctx.Err(); err != nil {
		out.fail(KindCancelled, err)
		return out, nil
	}

	text := desc.OCRText
	if text == "" {
		res := ocr.Run(ctx, p.ocr, helper.ResolvePath(p.rootDir, desc.ImagePath))
		out.OCR = res.Status
		text = res.Text
		if res.Status == ocr.StatusFailed {
			// ocr failures are reported but the image is still indexed without text
			out.Kind, out.Err = KindOCR, res.Err
			out.Error = res.Err.Error()
		}
	} else {
		out.OCR = ocr.StatusOK
	}

	embeddingText := EmbeddingText(doc, desc.ImagePath, desc.Page, desc.Context, text)
	vector, err := p.embedder.EmbedQuery(ctx, embeddingText)
	if err != nil {
		log.Error().Err(err).Str("image_path", desc.ImagePath).Msg("Failed to embed image metadata")
		out.fail(kindOf(ctx, KindEmbed), err)
		return out, nil
	}

	return out, &models.Entry{
		Vector:    vector,
		ImagePath: desc.ImagePath,
		SourceDoc: doc.SourceKey(),
		Page:      desc.Page,
		Metadata: models.Metadata{
			Title:         doc.Title,
			Description:   doc.Description,
			DocAuthor:     doc.DocAuthor,
			ChunkSource:   doc.ChunkSource,
			OCRText:       text,
			EmbeddingText: embeddingText,
		},
	}
}

// cleanup drops the stored entries of sourceDoc and their image files.
func (p *Pipeline) cleanup(ctx context.Context, sourceDoc string) (int, error) {
	if sourceDoc == "" {
		return 0, nil
	}
	removed, err := p.store.DeleteBySource(ctx, sourceDoc)
	if err != nil {
		return 0, fmt.Errorf("failed to remove stale entries of %s: %w", sourceDoc, err)
	}
	for _, e := range removed {
		path := helper.ResolvePath(p.rootDir, e.ImagePath)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("image_path", e.ImagePath).Msg("Failed to remove cached image")
		}
	}
	return len(removed), nil
}

// EmbeddingText is the text embedded for one image. Empty fields are left out.
func EmbeddingText(doc models.Document, imagePath string, page *int, surrounding, ocrText string) string {
	lines := []string{"Image path: " + imagePath}
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+value)
		}
	}
	add("Document title: ", doc.Title)
	add("Document description: ", doc.Description)
	add("Document author: ", doc.DocAuthor)
	add("Document source: ", doc.ChunkSource)
	add("Stored location: ", doc.Location)
	if page != nil {
		lines = append(lines, fmt.Sprintf("Page: %d", *page))
	}
	add("Surrounding text: ", surrounding)
	if ocrText != "" {
		lines = append(lines, "OCR Text: "+ocrText)
	} else {
		lines = append(lines, "OCR Text: none detected")
	}
	return strings.Join(lines, "\n")
}

func kindOf(ctx context.Context, kind Kind) Kind {
	if ctx.Err() != nil {
		return KindCancelled
	}
	return kind
}
