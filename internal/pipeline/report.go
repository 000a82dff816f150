package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"image-rag/internal/extractor"
	"image-rag/internal/ocr"
)

// Kind classifies where an ingestion step failed.
type Kind string

const (
	KindExtract   Kind = "extract"
	KindOCR       Kind = "ocr"
	KindEmbed     Kind = "embed"
	KindStore     Kind = "store"
	KindCancelled Kind = "cancelled"
)

// ImageOutcome is the result for one extracted image.
type ImageOutcome struct {
	ImagePath string     `json:"image_path"`
	Page      *int       `json:"page"`
	OCR       ocr.Status `json:"ocr"`
	Indexed   bool       `json:"indexed"`
	Kind      Kind       `json:"kind,omitempty"`
	Err       error      `json:"-"`
	Error     string     `json:"error,omitempty"`
}

// Report describes one document ingestion. A document level failure sets Kind and
// Err; per image failures only show up in Images.
type Report struct {
	RunID     string            `json:"run_id"`
	Type      extractor.DocType `json:"type"`
	SourceDoc string            `json:"source_doc"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Removed   int               `json:"removed"`
	Extracted int               `json:"extracted"`
	Indexed   int               `json:"indexed"`
	Images    []ImageOutcome    `json:"images"`
	Kind      Kind              `json:"kind,omitempty"`
	Err       error             `json:"-"`
	Error     string            `json:"error,omitempty"`
}

func (r *Report) Failed() bool { return r.Err != nil }

// Partial reports whether some, but not all, extracted images were indexed.
func (r *Report) Partial() bool {
	return r.Indexed > 0 && r.Indexed < r.Extracted
}

func (r *Report) fail(kind Kind, err error) *Report {
	r.Kind = kind
	r.Err = err
	r.Error = err.Error()
	return r
}

func (o *ImageOutcome) fail(kind Kind, err error) {
	o.Kind = kind
	o.Err = err
	o.Error = err.Error()
}

func (r *Report) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", r.RunID).
		Str("type", string(r.Type)).
		Str("source_doc", r.SourceDoc).
		Int("removed", r.Removed).
		Int("extracted", r.Extracted).
		Int("indexed", r.Indexed).
		Dur("duration", r.Duration)
	if r.Err != nil {
		e.Str("kind", string(r.Kind)).AnErr("error", r.Err)
	}
}
