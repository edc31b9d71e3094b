package preview

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docsum/workbench/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFile(name, mimeType string, data []byte) models.FileDescriptor {
	return models.FileDescriptor{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Source: models.FileSourceFunc(func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}),
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func awaitPreview(t *testing.T, ch <-chan PreviewResult) PreviewResult {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "preview channel closed without a result")
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for preview")
		return PreviewResult{}
	}
}

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		size     int64
		wantKind error
	}{
		{"pdf", "application/pdf", 1024, nil},
		{"png", "image/png", 1024, nil},
		{"jpeg", "image/jpeg", 1024, nil},
		{"jpg alias", "image/jpg", 1024, nil},
		{"type with parameters", "image/PNG; charset=binary", 1024, nil},
		{"exactly 10 MiB", "application/pdf", MaxFileBytes, nil},
		{"gif", "image/gif", 1024, ErrUnsupportedType},
		{"word document", "application/msword", 1024, ErrUnsupportedType},
		{"missing type", "", 1024, ErrUnsupportedType},
		{"one byte over", "image/png", MaxFileBytes + 1, ErrTooLarge},
		{"11 MB pdf", "application/pdf", 11 * 1024 * 1024, ErrTooLarge},
		{"unsupported and too large", "text/plain", MaxFileBytes * 2, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFile(models.FileDescriptor{Name: "f", MIMEType: tt.mimeType, Size: tt.size})
			if tt.wantKind == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			if tt.wantKind == ErrTooLarge {
				assert.Equal(t, MsgTooLarge, ve.Message)
			} else {
				assert.Equal(t, MsgUnsupportedType, ve.Message)
			}
		})
	}
}

func TestNewValidator_CustomLimits(t *testing.T) {
	v := NewValidator(100, []string{"application/pdf"})

	assert.NoError(t, v.Validate(models.FileDescriptor{MIMEType: "application/pdf", Size: 100}))
	assert.ErrorIs(t, v.Validate(models.FileDescriptor{MIMEType: "application/pdf", Size: 101}), ErrTooLarge)
	assert.ErrorIs(t, v.Validate(models.FileDescriptor{MIMEType: "image/png", Size: 1}), ErrUnsupportedType)

	def := NewValidator(0, nil)
	assert.Equal(t, MaxFileBytes, def.MaxBytes())
}

func TestSelectDrop(t *testing.T) {
	a := models.FileDescriptor{Name: "a.pdf"}
	b := models.FileDescriptor{Name: "b.pdf"}

	_, err := SelectDrop(nil)
	assert.ErrorIs(t, err, ErrNoFile)

	got, err := SelectDrop([]models.FileDescriptor{a})
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Name)

	_, err = SelectDrop([]models.FileDescriptor{a, b})
	assert.ErrorIs(t, err, ErrBatchRejected)
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name string
		file string
		head []byte
		want string
	}{
		{"pdf extension", "report.PDF", nil, "application/pdf"},
		{"jpg extension", "photo.jpg", nil, "image/jpeg"},
		{"png extension", "scan.png", nil, "image/png"},
		{"sniffed png", "noext", []byte("\x89PNG\r\n\x1a\n0000"), "image/png"},
		{"sniffed pdf", "noext", []byte("%PDF-1.7"), "application/pdf"},
		{"nothing known", "noext", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMIME(tt.file, tt.head))
		})
	}
}

func TestBuildPreview_Image(t *testing.T) {
	data := pngBytes(t, 4, 3)
	res := awaitPreview(t, BuildPreview(context.Background(), memFile("dot.png", "image/png", data)))

	require.NoError(t, res.Err)
	assert.Equal(t, "dot.png", res.Preview.FileName)
	assert.True(t, strings.HasPrefix(res.Preview.PreviewDataURL, "data:image/png;base64,"))
	assert.Equal(t, 4, res.Preview.Width)
	assert.Equal(t, 3, res.Preview.Height)
	assert.False(t, res.Preview.IsPDF)
}

func TestBuildPreview_JPGAliasUsesDecodedFormat(t *testing.T) {
	data := jpegBytes(t, 8, 8)
	res := awaitPreview(t, BuildPreview(context.Background(), memFile("photo.jpg", "image/jpg", data)))

	require.NoError(t, res.Err)
	assert.True(t, strings.HasPrefix(res.Preview.PreviewDataURL, "data:image/jpeg;base64,"))
}

func TestBuildPreview_PDFHasNoInlinePreview(t *testing.T) {
	opened := false
	desc := models.FileDescriptor{
		Name:     "doc.pdf",
		MIMEType: "application/pdf",
		Size:     10,
		Source: models.FileSourceFunc(func() (io.ReadCloser, error) {
			opened = true
			return io.NopCloser(strings.NewReader("%PDF")), nil
		}),
	}

	ch := BuildPreview(context.Background(), desc)
	res, ok := <-ch
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.True(t, res.Preview.IsPDF)
	assert.Empty(t, res.Preview.PreviewDataURL)
	assert.False(t, opened, "pdf bytes should not be read for a preview")

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed after one result")
}

func TestBuildPreview_CorruptImage(t *testing.T) {
	res := awaitPreview(t, BuildPreview(context.Background(), memFile("bad.png", "image/png", []byte("not an image"))))

	require.Error(t, res.Err)
	assert.Empty(t, res.Preview.PreviewDataURL)
	assert.Equal(t, "bad.png", res.Preview.FileName)
}

func TestBuildPreview_OpenFailure(t *testing.T) {
	res := awaitPreview(t, BuildPreview(context.Background(), models.FileDescriptor{Name: "x.png", MIMEType: "image/png"}))
	assert.Error(t, res.Err)
}

func TestRenderResult(t *testing.T) {
	tests := []struct {
		name             string
		summary          string
		improvements     string
		wantSummary      string
		wantImprovements string
	}{
		{"emphasis removed", "**Hi**", "None\\n", "Hi", "None\n"},
		{"empty stays empty", "", "", "", ""},
		{"escaped newlines", "a\\nb\\nc", "x", "a\nb\nc", "x"},
		{"odd stars keep remainder", "***bold***", "", "*bold*", ""},
		{"real newlines untouched", "line1\nline2", "", "line1\nline2", ""},
		{"single stars kept", "*note* and 2*3", "", "*note* and 2*3", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderResult(models.AnalysisResult{Summary: tt.summary, Improvements: tt.improvements, FileURL: "/files/a"})
			assert.Equal(t, tt.wantSummary, got.Summary)
			assert.Equal(t, tt.wantImprovements, got.Improvements)
			assert.Equal(t, "/files/a", got.DownloadURL)
		})
	}
}

func TestRenderResult_Idempotent(t *testing.T) {
	inputs := []string{
		"**Hi**",
		"***x***",
		"*****",
		"a\\\\nb",
		"**\\n**",
		"*\\n*",
		"plain",
		"",
	}
	for _, in := range inputs {
		once := CleanText(in)
		twice := CleanText(once)
		assert.Equal(t, once, twice, "input %q", in)

		r := models.AnalysisResult{Summary: in, Improvements: in}
		assert.Equal(t, RenderResult(r), RenderResult(r))
	}
}

func TestResolveFileURL(t *testing.T) {
	tests := []struct {
		base string
		ref  string
		want string
	}{
		{"http://localhost:8000", "/files/20250101_doc.pdf", "http://localhost:8000/files/20250101_doc.pdf"},
		{"http://localhost:8000/", "/files/a.png", "http://localhost:8000/files/a.png"},
		{"http://svc/api", "files/a.png", "http://svc/api/files/a.png"},
		{"http://localhost:8000", "http://x/y.jpg", "http://x/y.jpg"},
		{"", "/files/a.png", "/files/a.png"},
		{"http://localhost:8000", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveFileURL(tt.base, tt.ref), "%s + %s", tt.base, tt.ref)
	}
}

func TestDropZone(t *testing.T) {
	var z DropZone
	assert.Equal(t, models.DropZoneIdle, z.State())
	assert.True(t, z.Accepting())

	z.DragEnter()
	assert.Equal(t, models.DropZoneDragActive, z.State())
	z.DragLeave()
	assert.Equal(t, models.DropZoneIdle, z.State())

	z.DragEnter()
	z.SetLoading(true)
	assert.Equal(t, models.DropZoneLoading, z.State())
	assert.False(t, z.Accepting())

	z.DragEnter()
	assert.Equal(t, models.DropZoneLoading, z.State())

	z.SetLoading(false)
	assert.Equal(t, models.DropZoneIdle, z.State())
}

func TestTerminalRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf, models.ThemeLight)
	assert.Equal(t, models.ThemeLight, r.Theme())

	t.Run("idle shows selector", func(t *testing.T) {
		out := r.Render(models.ViewState{
			Submission: models.InitialSubmissionState(),
			DropZone:   models.DropZoneIdle,
			Theme:      models.ThemeLight,
		})
		assert.Contains(t, out, "Upload Your Document")
		assert.Contains(t, out, "Summary Length:")
		assert.Contains(t, out, "[medium]")
		assert.NotContains(t, out, LoadingText)
	})

	t.Run("loading hides selector", func(t *testing.T) {
		out := r.Render(models.ViewState{
			Submission: models.SubmissionState{IsLoading: true, SelectedLength: models.LengthShort, Phase: models.PhaseSubmitting},
			DropZone:   models.DropZoneLoading,
			Preview:    &models.PreviewState{FileName: "doc.pdf", IsPDF: true},
		})
		assert.Contains(t, out, LoadingText)
		assert.NotContains(t, out, "Summary Length:")
		assert.Contains(t, out, "doc.pdf")
	})

	t.Run("result and notice", func(t *testing.T) {
		out := r.Render(models.ViewState{
			Submission: models.InitialSubmissionState(),
			DropZone:   models.DropZoneIdle,
			Preview:    &models.PreviewState{FileName: "doc.pdf", IsPDF: true},
			Result:     &models.RenderedResult{Summary: "Hi", DownloadURL: "http://svc/files/doc.pdf"},
			Notice:     &models.Notice{Kind: models.NoticeService, Message: "Error: boom"},
		})
		assert.Contains(t, out, "AI-Generated Summary")
		assert.Contains(t, out, "Hi")
		assert.NotContains(t, out, "Document Analysis & Improvements")
		assert.Contains(t, out, "Error: boom")
		assert.Contains(t, out, "http://svc/files/doc.pdf")
		assert.Contains(t, out, "Click \"Download\" to view.")
	})

	t.Run("unknown theme falls back", func(t *testing.T) {
		r2 := NewTerminalRenderer(&buf, models.Theme("neon"))
		assert.Equal(t, models.DefaultTheme, r2.Theme())
		r2.SetTheme("neon")
		assert.Equal(t, models.DefaultTheme, r2.Theme())
	})
}
