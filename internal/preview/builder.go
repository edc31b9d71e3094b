package preview

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/docsum/workbench/internal/models"
)

// PreviewResult is delivered once per BuildPreview call.
type PreviewResult struct {
	Preview models.PreviewState
	Err     error
}

// BuildPreview decodes an image into a data URL on its own goroutine. PDFs
// and other non-image types resolve immediately with no inline preview.
// The channel receives exactly one value and is then closed.
func BuildPreview(ctx context.Context, desc models.FileDescriptor) <-chan PreviewResult {
	out := make(chan PreviewResult, 1)

	base := models.PreviewState{
		FileName: desc.Name,
		MIMEType: desc.MIMEType,
		IsPDF:    desc.IsPDF(),
	}

	if !desc.IsImage() {
		out <- PreviewResult{Preview: base}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		p, err := decodeImage(ctx, desc, base)
		out <- PreviewResult{Preview: p, Err: err}
	}()
	return out
}

func decodeImage(ctx context.Context, desc models.FileDescriptor, p models.PreviewState) (models.PreviewState, error) {
	src, err := desc.Open()
	if err != nil {
		return p, fmt.Errorf("opening %s for preview: %w", desc.Name, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxFileBytes+1))
	if err != nil {
		return p, fmt.Errorf("reading %s for preview: %w", desc.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return p, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return p, fmt.Errorf("decoding %s: %w", desc.Name, err)
	}

	mimeType := normalizeMIME(desc.MIMEType)
	if mimeType == "image/jpg" || mimeType == "" {
		mimeType = "image/" + format
	}

	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))

	p.PreviewDataURL = b.String()
	p.Width = cfg.Width
	p.Height = cfg.Height
	return p, nil
}
