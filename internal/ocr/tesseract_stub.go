//go:build !tesseract

package ocr

func newTesseract([]string) (Engine, bool) { return nil, false }
