package extractor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"image-rag/internal/models"
)

// xlsxExtractor pulls the pictures anchored in worksheet cells; the 1-based sheet
// index stands in for the page number.
type xlsxExtractor struct {
	out output
}

func (e *xlsxExtractor) Type() DocType { return XLSX }

func (e *xlsxExtractor) Extract(ctx context.Context, filePath string, doc models.Document) ([]models.ImageDescriptor, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx %s: %w", filePath, err)
	}
	defer f.Close()

	base := baseSlug(filePath, doc, XLSX)
	var results []models.ImageDescriptor
	index := 0
	for sheetNum, sheet := range f.GetSheetList() {
		cells, err := f.GetPictureCells(sheet)
		if err != nil {
			log.Error().Err(err).Str("sheet", sheet).Msg("Failed to list pictures")
			continue
		}
		for _, cell := range cells {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			pics, err := f.GetPictures(sheet, cell)
			if err != nil {
				log.Error().Err(err).Str("sheet", sheet).Str("cell", cell).Msg("Failed to read pictures")
				continue
			}
			for _, pic := range pics {
				name := fmt.Sprintf("%s-image-%d%s", base, index, extOrDefault(pic.Extension))
				index++
				if len(pic.File) == 0 {
					continue
				}
				rel, err := e.out.write(name, pic.File)
				if err != nil {
					log.Error().Err(err).Str("sheet", sheet).Str("cell", cell).Msg("Failed to extract XLSX image")
					continue
				}
				results = append(results, models.ImageDescriptor{
					ImagePath: rel,
					Page:      models.PageRef(sheetNum + 1),
					Context:   fmt.Sprintf("Sheet %s, cell %s", sheet, cell),
				})
			}
		}
	}
	return results, nil
}
