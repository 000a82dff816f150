package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"image-rag/internal/embedding"
	"image-rag/internal/extractor"
	"image-rag/internal/helper"
	"image-rag/internal/models"
	"image-rag/internal/pipeline"
	"image-rag/internal/rag"
)

const requestIDHeader = "X-Request-ID"

type Ingester interface {
	Ingest(ctx context.Context, req pipeline.Request) *pipeline.Report
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]models.Result, error)
}

type Asker interface {
	Ask(ctx context.Context, query string, topK int) (*rag.Answer, error)
}

// Server exposes ingestion and retrieval over HTTP. A nil Asker disables /v1/ask.
type Server struct {
	ingester  Ingester
	retriever Retriever
	asker     Asker
	topK      int
}

func New(ingester Ingester, retriever Retriever, asker Asker, topK int) *Server {
	return &Server{ingester: ingester, retriever: retriever, asker: asker, topK: topK}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := r.Group("/v1")
	v1.POST("/ingest", s.ingest)
	v1.POST("/retrieve", s.retrieve)
	v1.POST("/ask", s.ask)
	return r
}

type ingestRequest struct {
	Type     string          `json:"type"`
	FilePath string          `json:"file_path" binding:"required"`
	Document models.Document `json:"document"`
}

func (s *Server) ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		docType extractor.DocType
		err     error
	)
	if strings.TrimSpace(req.Type) == "" {
		docType, err = extractor.DetectType(req.FilePath)
	} else {
		docType, err = extractor.ParseType(req.Type)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report := s.ingester.Ingest(c.Request.Context(), pipeline.Request{
		Type:     docType,
		FilePath: req.FilePath,
		Document: req.Document,
	})
	c.JSON(http.StatusOK, report)
}

type queryRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

func (s *Server) bindQuery(c *gin.Context) (queryRequest, bool) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if req.TopK <= 0 {
		req.TopK = s.topK
	}
	return req, true
}

func (s *Server) retrieve(c *gin.Context) {
	req, ok := s.bindQuery(c)
	if !ok {
		return
	}
	results, err := s.retriever.Retrieve(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		abortWithError(c, err)
		return
	}
	imageContext, _ := rag.BuildContext(results)
	c.JSON(http.StatusOK, gin.H{"images": results, "context": imageContext})
}

func (s *Server) ask(c *gin.Context) {
	if s.asker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "answer generation is not configured"})
		return
	}
	req, ok := s.bindQuery(c)
	if !ok {
		return
	}
	answer, err := s.asker.Ask(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, embedding.ErrUnreachable) {
		status = http.StatusBadGateway
	}
	log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id, _ = helper.GenerateUUID()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Handled request")
	}
}
