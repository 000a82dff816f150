package ocr

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"image-rag/internal/config"
)

// Engine reads the text printed in an image file.
type Engine interface {
	Text(ctx context.Context, imagePath string) (string, error)
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome keeps "no text" apart from "could not read"; Text is empty in both cases.
type Outcome struct {
	Text   string
	Status Status
	Err    error
}

// New returns the tesseract engine when it is compiled in and enabled, Noop otherwise.
func New(cfg config.OCRConfig) Engine {
	if !cfg.Enabled {
		return Noop{}
	}
	if e, ok := newTesseract(cfg.Languages); ok {
		return e
	}
	log.Warn().Msg("OCR enabled but this binary was built without tesseract; OCR is skipped")
	return Noop{}
}

// Run never fails: engine errors are reported through the outcome.
func Run(ctx context.Context, engine Engine, imagePath string) Outcome {
	if engine == nil {
		return Outcome{Status: StatusSkipped}
	}
	if _, ok := engine.(Noop); ok {
		return Outcome{Status: StatusSkipped}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}

	text, err := engine.Text(ctx, imagePath)
	if err != nil {
		log.Warn().Err(err).Str("image_path", imagePath).Msg("OCR failed")
		return Outcome{Status: StatusFailed, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{Status: StatusEmpty}
	}
	return Outcome{Text: text, Status: StatusOK}
}

// Noop yields no text.
type Noop struct{}

func (Noop) Text(context.Context, string) (string, error) { return "", nil }
