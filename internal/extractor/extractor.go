package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gosimple/slug"

	"image-rag/internal/helper"
	"image-rag/internal/models"
)

// DocType tags the document format; extraction dispatches on it, never on content.
type DocType string

const (
	PDF      DocType = "pdf"
	DOCX     DocType = "docx"
	PPTX     DocType = "pptx"
	XLSX     DocType = "xlsx"
	Image    DocType = "image"
	Markdown DocType = "markdown"
)

var ErrUnsupportedType = errors.New("unsupported document type")

// Extractor turns one document into image files on disk plus their descriptors.
// Implementations skip images they cannot process; an error means the document
// itself could not be opened (or ctx was cancelled).
type Extractor interface {
	Type() DocType
	Extract(ctx context.Context, filePath string, doc models.Document) ([]models.ImageDescriptor, error)
}

type Options struct {
	// persisted image paths are relative to RootDir
	RootDir   string
	OutputDir string
	TargetDPI int
}

// Registry holds one extractor per DocType.
type Registry struct {
	byType map[DocType]Extractor
}

func New(opts Options) (*Registry, error) {
	if opts.TargetDPI <= 0 {
		opts.TargetDPI = models.DefaultTargetDPI
	}
	if opts.RootDir == "" {
		opts.RootDir = "."
	}
	if err := helper.CreateFolder(opts.OutputDir); err != nil {
		return nil, err
	}
	out := output{root: opts.RootDir, dir: opts.OutputDir}

	r := &Registry{byType: map[DocType]Extractor{}}
	for _, e := range []Extractor{
		&pdfExtractor{out: out, targetDPI: opts.TargetDPI},
		newDocxExtractor(out),
		newPptxExtractor(out),
		&xlsxExtractor{out: out},
		&imageExtractor{out: out},
		&markdownExtractor{out: out},
	} {
		r.byType[e.Type()] = e
	}
	return r, nil
}

// For returns the extractor registered for t.
func (r *Registry) For(t DocType) (Extractor, error) {
	e, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	return e, nil
}

func (r *Registry) Types() []DocType {
	types := make([]DocType, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseType validates a user supplied type tag.
func ParseType(s string) (DocType, error) {
	switch t := DocType(strings.ToLower(strings.TrimSpace(s))); t {
	case PDF, DOCX, PPTX, XLSX, Image, Markdown:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// DetectType maps a file extension to a DocType. It is a convenience for callers
// that do not already know the type; extraction itself only looks at the tag.
func DetectType(filePath string) (DocType, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return PDF, nil
	case ".docx":
		return DOCX, nil
	case ".pptx":
		return PPTX, nil
	case ".xlsx":
		return XLSX, nil
	case ".md", ".markdown":
		return Markdown, nil
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tif", ".tiff":
		return Image, nil
	default:
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}
}

// baseSlug derives the deterministic filename stem shared by every image of a document.
func baseSlug(filePath string, doc models.Document, t DocType) string {
	name := doc.Title
	if name == "" {
		name = filepath.Base(filePath)
	}
	id := doc.ID
	if id == "" {
		id = string(t)
	}
	s := slug.Make(name + "-" + id)
	if s == "" {
		return string(t)
	}
	return s
}

func extOrDefault(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return strings.ToLower(ext)
	}
	return ".png"
}

// output writes extracted images into the extraction directory.
type output struct {
	root string
	dir  string
}

func (o output) write(name string, data []byte) (string, error) {
	target := filepath.Join(o.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return helper.RelativePath(o.root, target)
}

func (o output) copyFrom(name string, src io.Reader) (string, error) {
	target := filepath.Join(o.dir, name)
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to copy into %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return helper.RelativePath(o.root, target)
}
