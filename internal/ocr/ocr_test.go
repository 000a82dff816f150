package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"image-rag/internal/config"
)

type fakeEngine struct {
	text string
	err  error
}

func (f fakeEngine) Text(context.Context, string) (string, error) { return f.text, f.err }

func TestRunStatuses(t *testing.T) {
	ctx := context.Background()

	out := Run(ctx, fakeEngine{text: "  Revenue 2023 \n"}, "a.png")
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "Revenue 2023", out.Text)

	out = Run(ctx, fakeEngine{text: " \n\t"}, "a.png")
	assert.Equal(t, StatusEmpty, out.Status)
	assert.Empty(t, out.Text)

	boom := errors.New("tesseract crashed")
	out = Run(ctx, fakeEngine{err: boom}, "a.png")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Empty(t, out.Text)
	assert.ErrorIs(t, out.Err, boom)

	assert.Equal(t, StatusSkipped, Run(ctx, Noop{}, "a.png").Status)
	assert.Equal(t, StatusSkipped, Run(ctx, nil, "a.png").Status)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := Run(ctx, fakeEngine{text: "never read"}, "a.png")
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestNewDisabledIsNoop(t *testing.T) {
	assert.IsType(t, Noop{}, New(config.OCRConfig{Enabled: false}))
}
