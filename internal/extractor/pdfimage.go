package extractor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"

	"image-rag/internal/models"
)

var (
	errNoImageData      = errors.New("image object has no data")
	errUnsupportedImage = errors.New("unsupported image encoding")
)

func decodeXObject(obj pdf.Value, jpegs *jpegIndex) (image.Image, error) {
	w := int(obj.Key("Width").Int64())
	h := int(obj.Key("Height").Int64())
	if w <= 0 || h <= 0 {
		return nil, errNoImageData
	}

	if hasFilter(obj, "DCTDecode") {
		raw, err := jpegs.lookup(obj.Key("Length").Int64(), w, h)
		if err != nil {
			return nil, err
		}
		return jpeg.Decode(bytes.NewReader(raw))
	}
	if hasFilter(obj, "JPXDecode") || hasFilter(obj, "JBIG2Decode") || hasFilter(obj, "CCITTFaxDecode") {
		return nil, fmt.Errorf("%w: %v", errUnsupportedImage, obj.Key("Filter"))
	}
	bpc := int(obj.Key("BitsPerComponent").Int64())
	if obj.Key("ImageMask").Bool() {
		bpc = 1
	}
	switch bpc {
	case 0:
		bpc = 8
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("%w: %d bits per component", errUnsupportedImage, bpc)
	}

	data, err := readStream(obj)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errNoImageData
	}

	if pal, ok := indexedPalette(obj.Key("ColorSpace")); ok {
		indices, err := unpackSamples(data, w, h, 1, bpc, false)
		if err != nil {
			return nil, err
		}
		return pal.toImage(indices, w, h), nil
	}
	cs := colorSpace(obj)
	if bpc != 8 {
		if data, err = unpackSamples(data, w, h, components(cs), bpc, true); err != nil {
			return nil, err
		}
	}
	return rawToImage(data, w, h, cs)
}

func components(cs string) int {
	switch cs {
	case "DeviceRGB", "CalRGB", "Lab":
		return 3
	case "DeviceCMYK":
		return 4
	default:
		return 1
	}
}

// unpackSamples expands packed rows of bpc-bit samples into one byte per sample.
// Rows start on a byte boundary. With scale set, values are stretched to 0..255.
func unpackSamples(data []byte, w, h, comps, bpc int, scale bool) ([]byte, error) {
	if bpc == 8 {
		return data, nil
	}
	perRow := w * comps
	rowBytes := (perRow*bpc + 7) / 8
	if len(data) < rowBytes*h {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d at %d bits", errUnsupportedImage, len(data), w, h, bpc)
	}
	maxVal := 1<<bpc - 1
	out := make([]byte, 0, perRow*h)
	for y := 0; y < h; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for i := 0; i < perRow; i++ {
			bit := i * bpc
			v := int(row[bit/8]>>(8-bpc-bit%8)) & maxVal
			if scale {
				v = v * 255 / maxVal
			}
			out = append(out, byte(v))
		}
	}
	return out, nil
}

// palette is the lookup table of an /Indexed colour space.
type palette struct {
	comps  int
	lookup []byte
}

// indexedPalette reads [/Indexed base hival lookup]; the lookup may be a string or a stream.
func indexedPalette(cs pdf.Value) (palette, bool) {
	if cs.Kind() != pdf.Array || cs.Len() < 4 || cs.Index(0).Name() != "Indexed" {
		return palette{}, false
	}
	base := cs.Index(1)
	comps := components(base.Name())
	if base.Kind() == pdf.Array && base.Len() > 1 {
		switch base.Index(0).Name() {
		case "ICCBased":
			if n := int(base.Index(1).Key("N").Int64()); n > 0 {
				comps = n
			}
		default:
			comps = components(base.Index(0).Name())
		}
	}

	var lookup []byte
	switch t := cs.Index(3); t.Kind() {
	case pdf.String:
		lookup = []byte(t.RawString())
	case pdf.Stream:
		data, err := readStream(t)
		if err != nil {
			return palette{}, false
		}
		lookup = data
	}
	if comps != 1 && comps != 3 && comps != 4 || len(lookup) < comps {
		return palette{}, false
	}
	return palette{comps: comps, lookup: lookup}, true
}

func (p palette) toImage(indices []byte, w, h int) image.Image {
	rect := image.Rect(0, 0, w, h)
	entries := len(p.lookup) / p.comps
	if p.comps == 1 {
		img := image.NewGray(rect)
		for i := 0; i < w*h && i < len(indices); i++ {
			img.Pix[i] = p.lookup[min(int(indices[i]), entries-1)]
		}
		return img
	}
	img := image.NewNRGBA(rect)
	for i := 0; i < w*h && i < len(indices); i++ {
		at := min(int(indices[i]), entries-1) * p.comps
		var c color.NRGBA
		if p.comps == 4 {
			r, g, b := color.CMYKToRGB(p.lookup[at], p.lookup[at+1], p.lookup[at+2], p.lookup[at+3])
			c = color.NRGBA{R: r, G: g, B: b, A: 0xff}
		} else {
			c = color.NRGBA{R: p.lookup[at], G: p.lookup[at+1], B: p.lookup[at+2], A: 0xff}
		}
		copy(img.Pix[i*4:], []byte{c.R, c.G, c.B, c.A})
	}
	return img
}

func readStream(obj pdf.Value) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errUnsupportedImage, rec)
		}
	}()
	rc := obj.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}

func colorSpace(obj pdf.Value) string {
	cs := obj.Key("ColorSpace")
	if cs.Kind() == pdf.Array && cs.Len() > 0 {
		// [/ICCBased stream] carries the component count in N
		if cs.Index(0).Name() == "ICCBased" && cs.Index(1).Key("N").Int64() == 4 {
			return "DeviceCMYK"
		}
		return cs.Index(0).Name()
	}
	return cs.Name()
}

// rawToImage infers the channel count from the buffer length.
func rawToImage(data []byte, w, h int, cs string) (image.Image, error) {
	pixels := w * h
	channels := len(data) / pixels
	if channels == 0 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", errUnsupportedImage, len(data), w, h)
	}
	rect := image.Rect(0, 0, w, h)

	switch channels {
	case 1:
		return &image.Gray{Pix: data[:pixels], Stride: w, Rect: rect}, nil
	case 2:
		img := image.NewNRGBA(rect)
		for i := 0; i < pixels; i++ {
			g, a := data[i*2], data[i*2+1]
			copy(img.Pix[i*4:], []byte{g, g, g, a})
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(rect)
		for i := 0; i < pixels; i++ {
			copy(img.Pix[i*4:], []byte{data[i*3], data[i*3+1], data[i*3+2], 0xff})
		}
		return img, nil
	case 4:
		if cs == "DeviceCMYK" {
			return &image.CMYK{Pix: data[:pixels*4], Stride: w * 4, Rect: rect}, nil
		}
		return &image.NRGBA{Pix: data[:pixels*4], Stride: w * 4, Rect: rect}, nil
	default:
		return nil, fmt.Errorf("%w: %d channels", errUnsupportedImage, channels)
	}
}

// encodePNG resamples img from the PDF baseline of 72 dpi to dpi and encodes it
// as PNG with the resolution recorded in a pHYs chunk.
func encodePNG(img image.Image, dpi int) ([]byte, error) {
	scale := float64(dpi) / models.BaselineDPI
	b := img.Bounds()
	w := max(int(math.Floor(float64(b.Dx())*scale)), 1)
	h := max(int(math.Floor(float64(b.Dy())*scale)), 1)

	resized := imaging.Resize(img, w, h, imaging.Lanczos)
	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, err
	}
	return withDPI(buf.Bytes(), dpi)
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// withDPI inserts a pHYs chunk right after IHDR.
func withDPI(data []byte, dpi int) ([]byte, error) {
	// signature + IHDR (length, type, 13 bytes, crc)
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd || !bytes.Equal(data[:8], pngSignature) || string(data[12:16]) != "IHDR" {
		return nil, errors.New("not a png stream")
	}
	ppm := uint32(math.Round(float64(dpi) / 0.0254))

	chunk := make([]byte, 0, 21)
	chunk = binary.BigEndian.AppendUint32(chunk, 9)
	chunk = append(chunk, "pHYs"...)
	chunk = binary.BigEndian.AppendUint32(chunk, ppm)
	chunk = binary.BigEndian.AppendUint32(chunk, ppm)
	chunk = append(chunk, 1) // unit: metre
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:ihdrEnd]...)
	out = append(out, chunk...)
	out = append(out, data[ihdrEnd:]...)
	return out, nil
}

// pngDPI reads the resolution back from a pHYs chunk; 0 when absent.
func pngDPI(data []byte) int {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return 0
	}
	for off := 8; off+12 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		if typ == "pHYs" && n == 9 && off+8+n <= len(data) {
			ppm := binary.BigEndian.Uint32(data[off+8:])
			if data[off+16] != 1 {
				return 0
			}
			return int(math.Round(float64(ppm) * 0.0254))
		}
		if typ == "IDAT" {
			return 0
		}
		off += 12 + n
	}
	return 0
}

// jpegIndex locates DCTDecode streams in the raw file. The pdf package cannot
// decode them, but a DCT stream is a complete JPEG file, so it is matched by its
// declared length and its frame size.
type jpegIndex struct {
	path string

	once    sync.Once
	data    []byte
	offsets []int
	err     error
}

func (j *jpegIndex) load() {
	j.data, j.err = os.ReadFile(j.path)
	if j.err != nil {
		return
	}
	soi := []byte{0xff, 0xd8, 0xff}
	keyword := []byte("stream")
	for from := 0; ; {
		i := bytes.Index(j.data[from:], keyword)
		if i < 0 {
			return
		}
		start := from + i + len(keyword)
		if start < len(j.data) && j.data[start] == '\r' {
			start++
		}
		if start < len(j.data) && j.data[start] == '\n' {
			start++
		}
		if bytes.HasPrefix(j.data[start:], soi) {
			j.offsets = append(j.offsets, start)
		}
		from = start
	}
}

func (j *jpegIndex) lookup(length int64, w, h int) ([]byte, error) {
	j.once.Do(j.load)
	if j.err != nil {
		return nil, j.err
	}
	for _, off := range j.offsets {
		end := off + int(length)
		if length <= 0 || end > len(j.data) {
			continue
		}
		raw := j.data[off:end]
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil || cfg.Width != w || cfg.Height != h {
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: jpeg stream %dx%d not found", errNoImageData, w, h)
}
