package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"image-rag/internal/chromemdb"
	"image-rag/internal/config"
	"image-rag/internal/db"
	"image-rag/internal/embedding"
	"image-rag/internal/extractor"
	"image-rag/internal/helper"
	"image-rag/internal/llmservice"
	"image-rag/internal/models"
	"image-rag/internal/ocr"
	"image-rag/internal/pipeline"
	"image-rag/internal/rag"
	"image-rag/internal/server"
	"image-rag/internal/vectorstore"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", "./configs/config.yaml", "Path to the config file")
	filePath := flag.String("file", "", "Path to the document file to ingest")
	docType := flag.String("type", "", "Document type (pdf, docx, pptx, xlsx, image, markdown); detected from the extension when empty")
	docID := flag.String("id", "", "Document id")
	title := flag.String("title", "", "Document title")
	description := flag.String("description", "", "Document description")
	author := flag.String("author", "", "Document author")
	location := flag.String("location", "", "Stored location of the document, used as source key")
	url := flag.String("url", "", "Document url, used as source key when location is empty")
	query := flag.String("query", "", "Query to retrieve images for")
	topK := flag.Int("topk", 0, "Number of images to retrieve")
	ask := flag.Bool("ask", false, "Generate an answer for -query with image context")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	dryRun := flag.Bool("dry-run", false, "Extract images only, do not embed or store")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc := models.Document{
		ID:          *docID,
		Title:       *title,
		Description: *description,
		DocAuthor:   *author,
		Location:    *location,
		URL:         *url,
	}

	switch {
	case *serve:
		err = runServer(ctx, cfg)
	case *filePath != "" && *dryRun:
		err = extractOnly(ctx, cfg, *filePath, *docType, doc)
	case *filePath != "":
		err = ingestFile(ctx, cfg, *filePath, *docType, doc)
	case *query != "":
		err = runQuery(ctx, cfg, *query, *topK, *ask)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

type app struct {
	store     vectorstore.Store
	pipeline  *pipeline.Pipeline
	retriever *rag.Retriever
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		store.Close()
		return nil, err
	}
	extractors, err := newExtractors(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{
		store: store,
		pipeline: pipeline.New(extractors, ocr.New(cfg.OCR), embedder, store, pipeline.Options{
			RootDir: cfg.RootDir,
			Workers: cfg.Pipeline.Workers,
		}),
		retriever: rag.NewRetriever(store, embedder, cfg.RAG.TopK),
	}, nil
}

func newExtractors(cfg *config.Config) (*extractor.Registry, error) {
	return extractor.New(extractor.Options{
		RootDir:   cfg.RootDir,
		OutputDir: filepath.Join(cfg.RootDir, cfg.ExtractionDir),
		TargetDPI: cfg.Extractor.TargetDPI,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "file":
		return vectorstore.NewFileStore(filepath.Join(cfg.RootDir, cfg.ExtractionDir), cfg.Store.LockTimeout)
	case "chromem":
		if err := helper.CreateFolder(cfg.Store.Chromem.Path); err != nil {
			return nil, err
		}
		return chromemdb.New(cfg.Store.Chromem)
	case "postgres":
		return db.New(ctx, cfg.Store.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func resolveType(filePath, docType string) (extractor.DocType, error) {
	if docType == "" {
		return extractor.DetectType(filePath)
	}
	return extractor.ParseType(docType)
}

func ingestFile(ctx context.Context, cfg *config.Config, filePath, docType string, doc models.Document) error {
	t, err := resolveType(filePath, docType)
	if err != nil {
		return err
	}
	if doc.Title == "" {
		doc.Title = filepath.Base(filePath)
	}
	if doc.Location == "" && doc.URL == "" {
		doc.Location = filePath
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	report := a.pipeline.Ingest(ctx, pipeline.Request{Type: t, FilePath: filePath, Document: doc})
	helper.PrettyPrint(report)
	if report.Failed() {
		return report.Err
	}
	return nil
}

func extractOnly(ctx context.Context, cfg *config.Config, filePath, docType string, doc models.Document) error {
	t, err := resolveType(filePath, docType)
	if err != nil {
		return err
	}
	extractors, err := newExtractors(cfg)
	if err != nil {
		return err
	}
	ex, err := extractors.For(t)
	if err != nil {
		return err
	}
	images, err := ex.Extract(ctx, filePath, doc)
	if err != nil {
		return err
	}
	log.Info().Int("images", len(images)).Msg("Extracted images")
	helper.PrettyPrint(images)
	return nil
}

func runQuery(ctx context.Context, cfg *config.Config, query string, topK int, ask bool) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if !ask {
		results, err := a.retriever.Retrieve(ctx, query, topK)
		if err != nil {
			return err
		}
		helper.PrettyPrint(results)
		if text, ok := rag.BuildContext(results); ok {
			fmt.Printf("\n%s\n", text)
		}
		return nil
	}

	llm, err := llmservice.New(cfg.LLM)
	if err != nil {
		return err
	}
	answer, err := rag.NewAnswerer(a.retriever, llm).Ask(ctx, query, topK)
	if err != nil {
		return err
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)
	return nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	var asker server.Asker
	if llm, err := llmservice.New(cfg.LLM); err != nil {
		log.Warn().Err(err).Msg("LLM unavailable, /v1/ask disabled")
	} else {
		asker = rag.NewAnswerer(a.retriever, llm)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(a.pipeline, a.retriever, asker, cfg.RAG.TopK).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// redacted hides credentials before the config is logged.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.Embedding.AuthToken != "" {
		c.Embedding.AuthToken = "***"
	}
	if c.LLM.Key != "" {
		c.LLM.Key = "***"
	}
	if c.Store.Database.DSN != "" {
		c.Store.Database.DSN = "***"
	}
	return c
}
