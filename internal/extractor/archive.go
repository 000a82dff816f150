package extractor

import (
	"archive/zip"
	"context"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"

	"image-rag/internal/models"
)

// archiveExtractor copies every entry under mediaPrefix of an OOXML package verbatim.
type archiveExtractor struct {
	out         output
	docType     DocType
	mediaPrefix string
	// optional format check; a failure is logged and the media entries are still walked
	validate func(filePath string) error
}

func newDocxExtractor(out output) *archiveExtractor {
	return &archiveExtractor{out: out, docType: DOCX, mediaPrefix: "word/media/", validate: validateDocx}
}

func newPptxExtractor(out output) *archiveExtractor {
	return &archiveExtractor{out: out, docType: PPTX, mediaPrefix: "ppt/media/"}
}

func (e *archiveExtractor) Type() DocType { return e.docType }

func (e *archiveExtractor) Extract(ctx context.Context, filePath string, doc models.Document) ([]models.ImageDescriptor, error) {
	if e.validate != nil {
		if err := e.validate(filePath); err != nil {
			log.Warn().Err(err).Str("file", filePath).Msgf("Malformed %s package, extracting media anyway", strings.ToUpper(string(e.docType)))
		}
	}

	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s package %s: %w", e.docType, filePath, err)
	}
	defer zr.Close()

	var media []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, e.mediaPrefix) && !f.FileInfo().IsDir() {
			media = append(media, f)
		}
	}
	if len(media) == 0 {
		return nil, nil
	}

	base := baseSlug(filePath, doc, e.docType)
	var results []models.ImageDescriptor
	for index, f := range media {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		name := fmt.Sprintf("%s-image-%d%s", base, index, extOrDefault(f.Name))
		rel, err := e.copyEntry(f, name)
		if err != nil {
			log.Error().Err(err).Str("entry", f.Name).Msgf("Failed to extract %s image", strings.ToUpper(string(e.docType)))
			continue
		}
		results = append(results, models.ImageDescriptor{ImagePath: rel})
	}
	return results, nil
}

func (e *archiveExtractor) copyEntry(f *zip.File, name string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return e.out.copyFrom(name, rc)
}

func validateDocx(filePath string) error {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read docx %s: %w", filePath, err)
	}
	defer r.Close()
	log.Debug().Str("file", filePath).Int("images", r.Editable().ImagesLen()).Msg("Opened docx")
	return nil
}
