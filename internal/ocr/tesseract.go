//go:build tesseract

package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs one gosseract client per call; clients are not safe for concurrent use.
type Tesseract struct {
	languages []string
}

func newTesseract(languages []string) (Engine, bool) {
	return &Tesseract{languages: languages}, true
}

func (t *Tesseract) Text(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return "", fmt.Errorf("failed to set OCR languages: %w", err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("failed to load %s for OCR: %w", imagePath, err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to OCR %s: %w", imagePath, err)
	}
	return text, nil
}
