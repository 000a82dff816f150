package extractor

import (
	"context"
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"image-rag/internal/helper"
	"image-rag/internal/models"
)

type paintKind int

const (
	paintImage paintKind = iota
	paintJPEG
	paintInline
)

func (k paintKind) String() string {
	switch k {
	case paintJPEG:
		return "jpeg"
	case paintInline:
		return "inline"
	default:
		return "image"
	}
}

// imageOp is one image painting operation found in a page content stream.
type imageOp struct {
	kind paintKind
	name string
	obj  pdf.Value
}

// maximum nesting of form XObjects followed while looking for images
const maxFormDepth = 8

type pdfExtractor struct {
	out       output
	targetDPI int
}

func (e *pdfExtractor) Type() DocType { return PDF }

func (e *pdfExtractor) Extract(ctx context.Context, filePath string, doc models.Document) (results []models.ImageDescriptor, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := openPDF(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", filePath, err)
	}

	jpegs := &jpegIndex{path: filePath}
	base := baseSlug(filePath, doc, PDF)

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		ops, walkErr := collectImageOps(page)
		if walkErr != nil {
			log.Warn().Err(walkErr).Int("page", i).Str("file", filePath).Msg("Partially parsed page content")
		}
		if len(ops) == 0 {
			continue
		}
		pageText := plainText(page)

		pageImageIndex := 0
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			if op.kind == paintInline {
				log.Debug().Int("page", i).Msg("Skipping inline image, data not addressable")
				continue
			}

			img, err := decodeXObject(op.obj, jpegs)
			if err != nil {
				log.Error().Err(err).Int("page", i).Str("xobject", op.name).Str("kind", op.kind.String()).Msg("Failed to process PDF image")
				continue
			}
			data, err := encodePNG(img, e.targetDPI)
			if err != nil {
				log.Error().Err(err).Int("page", i).Str("xobject", op.name).Msg("Failed to encode PDF image")
				continue
			}

			name := fmt.Sprintf("%s-page-%d-image-%d.png", base, i, pageImageIndex)
			rel, err := e.out.write(name, data)
			if err != nil {
				log.Error().Err(err).Int("page", i).Msg("Failed to write PDF image")
				continue
			}
			results = append(results, models.ImageDescriptor{
				ImagePath: rel,
				Page:      models.PageRef(i),
				Context:   pageText,
			})
			pageImageIndex++
		}
	}
	return results, nil
}

// the pdf package reports malformed input by panicking
func openPDF(f *os.File, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(f, size)
}

func plainText(page pdf.Page) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
		}
	}()
	t, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return helper.Clip(t, models.ContextMaxRunes)
}

// collectImageOps walks the page content streams in paint order. Operations found
// before a parse failure are still returned.
func collectImageOps(page pdf.Page) (ops []imageOp, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("content stream: %v", rec)
		}
	}()
	walkContent(page.V.Key("Contents"), page.Resources(), 0, &ops)
	return ops, nil
}

func walkContent(contents, resources pdf.Value, depth int, ops *[]imageOp) {
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			walkContent(contents.Index(i), resources, depth, ops)
		}
		return
	}
	if contents.Kind() != pdf.Stream {
		return
	}

	xobjects := resources.Key("XObject")
	pdf.Interpret(contents, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "Do":
			if len(args) != 1 {
				return
			}
			name := args[0].Name()
			obj := xobjects.Key(name)
			switch obj.Key("Subtype").Name() {
			case "Image":
				kind := paintImage
				if hasFilter(obj, "DCTDecode") {
					kind = paintJPEG
				}
				*ops = append(*ops, imageOp{kind: kind, name: name, obj: obj})
			case "Form":
				if depth >= maxFormDepth {
					return
				}
				res := obj.Key("Resources")
				if res.IsNull() {
					res = resources
				}
				walkContent(obj, res, depth+1, ops)
			}
		case "BI":
			*ops = append(*ops, imageOp{kind: paintInline})
		}
	})
}

func hasFilter(obj pdf.Value, name string) bool {
	filter := obj.Key("Filter")
	switch filter.Kind() {
	case pdf.Name:
		return filter.Name() == name
	case pdf.Array:
		for i := 0; i < filter.Len(); i++ {
			if filter.Index(i).Name() == name {
				return true
			}
		}
	}
	return false
}
