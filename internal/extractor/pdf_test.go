package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-rag/internal/models"
)

// buildPDF writes a one page PDF that paints a raw 2x2 RGB image twice.
func buildPDF(t *testing.T, path string) {
	t.Helper()
	pixels := []byte{
		0xff, 0x00, 0x00, 0x00, 0xff, 0x00,
		0x00, 0x00, 0xff, 0xff, 0xff, 0xff,
	}
	buildImagePDF(t, path, "/Width 2 /Height 2 /ColorSpace /DeviceRGB /BitsPerComponent 8", pixels)
}

// buildImagePDF paints one image XObject, described by dict, twice on a single page.
func buildImagePDF(t *testing.T, path, dict string, pixels []byte) {
	t.Helper()
	content := "q 50 0 0 50 0 0 cm /Im1 Do Q q 20 0 0 20 60 60 cm /Im1 Do Q"

	var buf bytes.Buffer
	offsets := make([]int, 6)
	buf.WriteString("%PDF-1.4\n")
	obj := func(n int, body string) {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}
	obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Resources << /XObject << /Im1 5 0 R >> >> /Contents 4 0 R >>")
	obj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

	offsets[5] = buf.Len()
	fmt.Fprintf(&buf, "5 0 obj\n<< /Type /XObject /Subtype /Image %s /Length %d >>\nstream\n", dict, len(pixels))
	buf.Write(pixels)
	buf.WriteString("\nendstream\nendobj\n")

	xref := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for n := 1; n <= 5; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestPDFExtractorWritesPNGPerPaint(t *testing.T) {
	r, root := newTestRegistry(t)
	src := filepath.Join(t.TempDir(), "report.pdf")
	buildPDF(t, src)

	e, err := r.For(PDF)
	require.NoError(t, err)
	out, err := e.Extract(context.Background(), src, models.Document{ID: "9", Title: "Annual Report"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "extracted_img/annual-report-9-page-1-image-0.png", out[0].ImagePath)
	assert.Equal(t, "extracted_img/annual-report-9-page-1-image-1.png", out[1].ImagePath)
	for _, d := range out {
		require.NotNil(t, d.Page)
		assert.Equal(t, 1, *d.Page)

		data, err := os.ReadFile(filepath.Join(root, d.ImagePath))
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		// 2px at 140/72 scale
		assert.Equal(t, 3, cfg.Width)
		assert.Equal(t, 3, cfg.Height)
		assert.Equal(t, 140, pngDPI(data))
	}
}

func TestPDFExtractorRejectsGarbage(t *testing.T) {
	r, _ := newTestRegistry(t)
	src := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("this is not a pdf"), 0o644))

	e, err := r.For(PDF)
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), src, models.Document{})
	assert.Error(t, err)
}

func TestPDFExtractorDecodesBilevelImage(t *testing.T) {
	r, root := newTestRegistry(t)
	src := filepath.Join(t.TempDir(), "scan.pdf")
	// 8x2, one byte per row: black left half, white right half
	buildImagePDF(t, src, "/Width 8 /Height 2 /ColorSpace /DeviceGray /BitsPerComponent 1", []byte{0x0f, 0x0f})

	e, err := r.For(PDF)
	require.NoError(t, err)
	out, err := e.Extract(context.Background(), src, models.Document{ID: "s"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	data, err := os.ReadFile(filepath.Join(root, out[0].ImagePath))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	assert.Equal(t, 15, b.Dx())
	left, _, _, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	right, _, _, _ := img.At(b.Max.X-1, b.Min.Y).RGBA()
	assert.Less(t, left, right)
}

func TestPDFExtractorDecodesIndexedImage(t *testing.T) {
	r, root := newTestRegistry(t)
	src := filepath.Join(t.TempDir(), "palette.pdf")
	// 2x1, 8-bit indices into a red/blue palette
	buildImagePDF(t, src, "/Width 2 /Height 1 /ColorSpace [/Indexed /DeviceRGB 1 <ff00000000ff>] /BitsPerComponent 8", []byte{0, 1})

	e, err := r.For(PDF)
	require.NoError(t, err)
	out, err := e.Extract(context.Background(), src, models.Document{ID: "p"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	data, err := os.ReadFile(filepath.Join(root, out[0].ImagePath))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	r0, _, b0, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	r1, _, b1, _ := img.At(b.Max.X-1, b.Min.Y).RGBA()
	assert.Greater(t, r0, b0)
	assert.Greater(t, b1, r1)
}
