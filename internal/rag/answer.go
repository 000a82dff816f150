package rag

import (
	"context"
	"fmt"

	"image-rag/internal/models"
)

// Generator is the answer generation side, implemented by llmservice.Service.
type Generator interface {
	Answer(ctx context.Context, system, user string) (string, error)
}

type Answer struct {
	Text    string          `json:"answer"`
	Context string          `json:"context,omitempty"`
	Images  []models.Result `json:"images"`
}

// Answerer enriches a generated answer with retrieved image context and citations.
type Answerer struct {
	retriever *Retriever
	llm       Generator
}

func NewAnswerer(retriever *Retriever, llm Generator) *Answerer {
	return &Answerer{retriever: retriever, llm: llm}
}

func (a *Answerer) Ask(ctx context.Context, query string, topK int) (*Answer, error) {
	results, err := a.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	user := query
	imageContext, ok := BuildContext(results)
	if ok {
		user = fmt.Sprintf(models.AnswerUserTemplate, imageContext, query)
	}
	text, err := a.llm.Answer(ctx, models.AnswerSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Text:    AppendReferences(text, results),
		Context: imageContext,
		Images:  results,
	}, nil
}
