package extractor

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"image-rag/internal/helper"
	"image-rag/internal/models"
)

// markdownExtractor copies local images referenced by a markdown file.
// Remote and data URLs are ignored, as are paths that leave the markdown file's directory.
type markdownExtractor struct {
	out output
}

type markdownImage struct {
	dest string
	alt  string
}

func (e *markdownExtractor) Type() DocType { return Markdown }

func (e *markdownExtractor) Extract(ctx context.Context, filePath string, doc models.Document) ([]models.ImageDescriptor, error) {
	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	refs := markdownImages(source)
	if len(refs) == 0 {
		return nil, nil
	}

	base := baseSlug(filePath, doc, Markdown)
	dir := filepath.Dir(filePath)
	var results []models.ImageDescriptor
	for index, ref := range refs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		local, ok := localImagePath(dir, ref.dest)
		if !ok {
			log.Debug().Str("dest", ref.dest).Msg("Skipping non-local markdown image")
			continue
		}
		name := fmt.Sprintf("%s-image-%d%s", base, index, extOrDefault(local))
		rel, err := e.copy(local, name)
		if err != nil {
			log.Error().Err(err).Str("dest", ref.dest).Msg("Failed to extract markdown image")
			continue
		}
		results = append(results, models.ImageDescriptor{
			ImagePath: rel,
			Context:   helper.Clip(ref.alt, models.ContextMaxRunes),
		})
	}
	return results, nil
}

func (e *markdownExtractor) copy(src, name string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return e.out.copyFrom(name, f)
}

func markdownImages(source []byte) []markdownImage {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(source))

	var refs []markdownImage
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if img, ok := n.(*ast.Image); ok {
			refs = append(refs, markdownImage{
				dest: string(img.Destination),
				alt:  string(img.Text(source)),
			})
		}
		return ast.WalkContinue, nil
	})
	return refs
}

func localImagePath(dir, dest string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "//") {
		return "", false
	}
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "" && u.Scheme != "file" {
		return "", false
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil || p == "" {
		return "", false
	}
	resolved := filepath.FromSlash(p)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, resolved)
	}
	rel, err := filepath.Rel(dir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return resolved, true
}
