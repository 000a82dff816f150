package extractor

import (
	"context"
	"os"

	"image-rag/internal/models"
)

// imageExtractor copies a standalone image file unchanged.
type imageExtractor struct {
	out output
}

func (e *imageExtractor) Type() DocType { return Image }

func (e *imageExtractor) Extract(ctx context.Context, filePath string, doc models.Document) ([]models.ImageDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	name := baseSlug(filePath, doc, Image) + extOrDefault(filePath)
	rel, err := e.out.copyFrom(name, src)
	if err != nil {
		return nil, err
	}
	return []models.ImageDescriptor{{ImagePath: rel}}, nil
}
