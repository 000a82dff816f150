package rag

import (
	"fmt"
	"strings"

	"image-rag/internal/models"
)

// BuildContext renders results as prompt context; ok is false when there are none.
func BuildContext(results []models.Result) (string, bool) {
	if len(results) == 0 {
		return "", false
	}
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		lines := []string{
			fmt.Sprintf("Image %d: %s", i+1, r.ImagePath),
			fmt.Sprintf("Cosine score: %.4f", r.Score),
		}
		if r.SourceDoc != "" {
			lines = append(lines, "Source document: "+r.SourceDoc)
		}
		if r.Page != nil {
			lines = append(lines, fmt.Sprintf("Page: %d", *r.Page))
		}
		if r.Metadata.OCRText != "" {
			lines = append(lines, "OCR summary: "+r.Metadata.OCRText)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return models.ImageContextInstruction + "\n" + strings.Join(blocks, "\n\n"), true
}

// AppendReferences adds a "Referenced images" line citing every result.
func AppendReferences(answer string, results []models.Result) string {
	if len(results) == 0 {
		return answer
	}
	refs := make([]string, 0, len(results))
	for _, r := range results {
		refs = append(refs, fmt.Sprintf("%s (%s)", r.Label, r.ImagePath))
	}
	return answer + "\n\nReferenced images: " + strings.Join(refs, "; ")
}
