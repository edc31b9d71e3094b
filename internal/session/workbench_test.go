package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docsum/workbench/internal/analysis"
	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/prefs"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/resilience"
	"github.com/docsum/workbench/internal/testutil"
	"github.com/docsum/workbench/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAnalyzer answers from fn and records requests. When gate is set
// each call blocks until it is closed.
type scriptedAnalyzer struct {
	mu    sync.Mutex
	reqs  []models.UploadRequest
	gate  chan struct{}
	fn    func(req models.UploadRequest) (models.AnalysisResult, error)
	entry chan struct{}
}

func newScripted(fn func(req models.UploadRequest) (models.AnalysisResult, error)) *scriptedAnalyzer {
	return &scriptedAnalyzer{fn: fn, entry: make(chan struct{}, 16)}
}

func (s *scriptedAnalyzer) Analyze(ctx context.Context, req models.UploadRequest) (models.AnalysisResult, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	gate := s.gate
	s.mu.Unlock()

	s.entry <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.AnalysisResult{}, ctx.Err()
		}
	}
	return s.fn(req)
}

func (s *scriptedAnalyzer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *scriptedAnalyzer) last() models.UploadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func succeedWith(res models.AnalysisResult) func(models.UploadRequest) (models.AnalysisResult, error) {
	return func(models.UploadRequest) (models.AnalysisResult, error) {
		res.Success = true
		return res, nil
	}
}

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

func spooled(t *testing.T, spool *testutil.MockStorage, id, name, mimeType string, data []byte) models.FileDescriptor {
	t.Helper()
	spool.AddFile(id, name, data)
	f := memFile(name, mimeType, data)
	f.SpoolID = id
	return f
}

func jpegOfSize(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 6)), nil))
	if pad := size - buf.Len(); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func newTestWorkbench(a analysis.Analyzer, mut ...func(*Deps)) *Workbench {
	deps := Deps{
		Analyzer: a,
		Timeout:  5 * time.Second,
		Logger:   logging.Discard(),
	}
	for _, fn := range mut {
		fn(&deps)
	}
	return NewWorkbench("wb-test", deps)
}

func TestWorkbench_InitialView(t *testing.T) {
	wb := newTestWorkbench(newScripted(succeedWith(models.AnalysisResult{})))
	v := wb.View()

	assert.False(t, v.Submission.IsLoading)
	assert.Equal(t, models.LengthMedium, v.Submission.SelectedLength)
	assert.Equal(t, models.DropZoneIdle, v.DropZone)
	assert.Equal(t, models.ThemeDark, v.Theme)
	assert.Nil(t, v.Preview)
	assert.Nil(t, v.Result)
	assert.Nil(t, v.Notice)
}

func TestWorkbench_ValidPDFSubmits(t *testing.T) {
	a := newScripted(succeedWith(models.AnalysisResult{Summary: "**Key** points", Improvements: "Fix\\ntypos", FileURL: "/files/doc.pdf"}))
	spool := testutil.NewMockStorage()
	wb := newTestWorkbench(a, func(d *Deps) {
		d.Spool = spool
		d.ServiceBase = "http://analysis:8000"
	})

	file := spooled(t, spool, "sp-1", "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	req, err := wb.Drop(context.Background(), []models.FileDescriptor{file})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.LengthMedium, req.Length)

	wb.Wait()
	v := wb.View()

	assert.False(t, v.Submission.IsLoading)
	assert.Equal(t, models.DropZoneIdle, v.DropZone)
	require.NotNil(t, v.Preview)
	assert.True(t, v.Preview.IsPDF)
	assert.Empty(t, v.Preview.PreviewDataURL)
	require.NotNil(t, v.Result)
	assert.Equal(t, "Key points", v.Result.Summary)
	assert.Equal(t, "Fix\ntypos", v.Result.Improvements)
	assert.Equal(t, "http://analysis:8000/files/doc.pdf", v.Result.DownloadURL)
	assert.Nil(t, v.Notice)

	assert.Equal(t, 1, a.calls())
	assert.Equal(t, []string{"sp-1"}, spool.Deleted())
}

func TestWorkbench_LoadingWhileSubmitting(t *testing.T) {
	a := newScripted(succeedWith(models.AnalysisResult{Summary: "done"}))
	a.gate = make(chan struct{})
	wb := newTestWorkbench(a)

	_, err := wb.Drop(context.Background(), []models.FileDescriptor{memFile("a.pdf", "application/pdf", []byte("%PDF"))})
	require.NoError(t, err)
	<-a.entry

	v := wb.View()
	assert.True(t, v.Submission.IsLoading)
	assert.Equal(t, models.PhaseSubmitting, v.Submission.Phase)
	assert.Equal(t, models.DropZoneLoading, v.DropZone)
	assert.True(t, wb.Busy())

	// drag is ignored while loading
	v = wb.SetDragActive(true)
	assert.Equal(t, models.DropZoneLoading, v.DropZone)

	close(a.gate)
	wb.Wait()
	assert.False(t, wb.Busy())
	assert.Equal(t, "done", wb.View().Result.Summary)
}

func TestWorkbench_SecondDropWhileLoadingIsRejected(t *testing.T) {
	a := newScripted(succeedWith(models.AnalysisResult{Summary: "first"}))
	a.gate = make(chan struct{})
	spool := testutil.NewMockStorage()
	wb := newTestWorkbench(a, func(d *Deps) { d.Spool = spool })

	first := spooled(t, spool, "sp-1", "a.pdf", "application/pdf", []byte("%PDF"))
	second := spooled(t, spool, "sp-2", "b.pdf", "application/pdf", []byte("%PDF"))

	_, err := wb.Drop(context.Background(), []models.FileDescriptor{first})
	require.NoError(t, err)
	<-a.entry
	before := wb.View()

	_, err = wb.Drop(context.Background(), []models.FileDescriptor{second})
	assert.ErrorIs(t, err, upload.ErrSubmissionInFlight)

	after := wb.View()
	assert.Equal(t, before.Submission, after.Submission)
	assert.Equal(t, before.Preview, after.Preview, "preview of the in-flight file is kept")
	require.NotNil(t, after.Notice)
	assert.Equal(t, models.NoticeBusy, after.Notice.Kind)
	assert.Contains(t, spool.Deleted(), "sp-2")

	close(a.gate)
	wb.Wait()
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, "a.pdf", a.last().File.Name)
}

func TestWorkbench_RejectedDrops(t *testing.T) {
	big := make([]byte, 11*1024*1024)

	tests := []struct {
		name       string
		files      func(t *testing.T, spool *testutil.MockStorage) []models.FileDescriptor
		wantErr    error
		wantNotice string
		wantKind   models.NoticeKind
		wantDelete int
	}{
		{
			name: "oversized pdf",
			files: func(t *testing.T, spool *testutil.MockStorage) []models.FileDescriptor {
				return []models.FileDescriptor{spooled(t, spool, "big", "big.pdf", "application/pdf", big)}
			},
			wantErr:    preview.ErrTooLarge,
			wantNotice: "File size must be less than 10MB.",
			wantKind:   models.NoticeValidation,
			wantDelete: 1,
		},
		{
			name: "word document",
			files: func(t *testing.T, spool *testutil.MockStorage) []models.FileDescriptor {
				return []models.FileDescriptor{spooled(t, spool, "doc", "notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("PK"))}
			},
			wantErr:    preview.ErrUnsupportedType,
			wantNotice: "Only PDF, PNG, JPG files are allowed.",
			wantKind:   models.NoticeValidation,
			wantDelete: 1,
		},
		{
			name: "batch of two",
			files: func(t *testing.T, spool *testutil.MockStorage) []models.FileDescriptor {
				return []models.FileDescriptor{
					spooled(t, spool, "one", "a.pdf", "application/pdf", []byte("%PDF")),
					spooled(t, spool, "two", "b.png", "image/png", []byte("png")),
				}
			},
			wantErr:    preview.ErrBatchRejected,
			wantNotice: preview.MsgBatchRejected,
			wantKind:   models.NoticeBatch,
			wantDelete: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newScripted(succeedWith(models.AnalysisResult{}))
			spool := testutil.NewMockStorage()
			wb := newTestWorkbench(a, func(d *Deps) { d.Spool = spool })

			_, err := wb.Drop(context.Background(), tt.files(t, spool))
			assert.ErrorIs(t, err, tt.wantErr)

			v := wb.View()
			require.NotNil(t, v.Notice)
			assert.Equal(t, tt.wantNotice, v.Notice.Message)
			assert.Equal(t, tt.wantKind, v.Notice.Kind)
			assert.False(t, v.Submission.IsLoading)
			assert.Nil(t, v.Preview)
			assert.Nil(t, v.Result)
			assert.Equal(t, 0, a.calls())
			assert.Len(t, spool.Deleted(), tt.wantDelete)
		})
	}
}

func TestWorkbench_EmptyDropIsIgnored(t *testing.T) {
	wb := newTestWorkbench(newScripted(succeedWith(models.AnalysisResult{})))
	before := wb.View()

	_, err := wb.Drop(context.Background(), nil)
	assert.ErrorIs(t, err, preview.ErrNoFile)
	assert.Equal(t, before, wb.View())
}

func TestWorkbench_JPEGWithShortLength(t *testing.T) {
	a := newScripted(succeedWith(models.AnalysisResult{
		Summary:      "**Hi**",
		Improvements: "None\\n",
		FileURL:      "http://x/y.jpg",
	}))
	wb := newTestWorkbench(a, func(d *Deps) { d.ServiceBase = "http://analysis:8000" })

	require.True(t, wb.SetLengthOption("short"))
	data := jpegOfSize(t, 2*1024*1024)
	_, err := wb.Drop(context.Background(), []models.FileDescriptor{memFile("photo.jpg", "image/jpeg", data)})
	require.NoError(t, err)
	wb.Wait()

	assert.Equal(t, models.LengthShort, a.last().Length)

	v := wb.View()
	require.NotNil(t, v.Preview)
	assert.False(t, v.Preview.Pending)
	assert.False(t, v.Preview.IsPDF)
	assert.True(t, strings.HasPrefix(v.Preview.PreviewDataURL, "data:image/jpeg;base64,"))
	assert.Equal(t, 8, v.Preview.Width)
	assert.Equal(t, 6, v.Preview.Height)

	require.NotNil(t, v.Result)
	assert.Equal(t, "Hi", v.Result.Summary)
	assert.Equal(t, "None\n", v.Result.Improvements)
	assert.Equal(t, "http://x/y.jpg", v.Result.DownloadURL)
}

func TestWorkbench_FailuresKeepPriorResult(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantNotice string
		wantKind   models.NoticeKind
	}{
		{
			name:       "service error",
			err:        &analysis.ServiceError{Detail: "Could not extract text"},
			wantNotice: "Error: Could not extract text",
			wantKind:   models.NoticeService,
		},
		{
			name:       "transport error",
			err:        &analysis.TransportError{Op: "upload", Err: errors.New("connection reset")},
			wantNotice: "Upload failed. Check console for details.",
			wantKind:   models.NoticeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fail := false
			a := newScripted(func(models.UploadRequest) (models.AnalysisResult, error) {
				if fail {
					return models.AnalysisResult{}, tt.err
				}
				return models.AnalysisResult{Success: true, Summary: "old summary", Improvements: "old tips"}, nil
			})
			wb := newTestWorkbench(a)
			pdf := []models.FileDescriptor{memFile("a.pdf", "application/pdf", []byte("%PDF"))}

			_, err := wb.Drop(context.Background(), pdf)
			require.NoError(t, err)
			wb.Wait()
			prior := wb.View().Result
			require.NotNil(t, prior)

			fail = true
			_, err = wb.Drop(context.Background(), pdf)
			require.NoError(t, err)
			wb.Wait()

			v := wb.View()
			assert.False(t, v.Submission.IsLoading)
			assert.Equal(t, prior, v.Result)
			require.NotNil(t, v.Notice)
			assert.Equal(t, tt.wantNotice, v.Notice.Message)
			assert.Equal(t, tt.wantKind, v.Notice.Kind)
		})
	}
}

func TestWorkbench_DroppedConnectionAgainstRealClient(t *testing.T) {
	fake := testutil.NewFakeAnalysis(t)
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, resilience.WithLogger(logging.Discard()))
	client, err := analysis.NewClient(analysis.Options{BaseURL: fake.URL, Timeout: 2 * time.Second, Executor: exec, Logger: logging.Discard()})
	require.NoError(t, err)

	wb := newTestWorkbench(client, func(d *Deps) { d.ServiceBase = fake.URL })
	pdf := []models.FileDescriptor{memFile("a.pdf", "application/pdf", []byte("%PDF"))}

	fake.Succeed("first summary", "first tips")
	_, err = wb.Drop(context.Background(), pdf)
	require.NoError(t, err)
	wb.Wait()
	prior := wb.View().Result
	require.NotNil(t, prior)
	assert.Equal(t, fake.URL+"/files/20250101_000000_upload", prior.DownloadURL)

	fake.DropConnection()
	_, err = wb.Drop(context.Background(), pdf)
	require.NoError(t, err)
	wb.Wait()

	v := wb.View()
	require.NotNil(t, v.Notice)
	assert.Equal(t, upload.GenericFailureNotice, v.Notice.Message)
	assert.Equal(t, prior, v.Result)
	assert.False(t, v.Submission.IsLoading)
}

func TestWorkbench_NewSubmissionClearsNotice(t *testing.T) {
	a := newScripted(succeedWith(models.AnalysisResult{Summary: "ok"}))
	wb := newTestWorkbench(a)

	_, err := wb.Drop(context.Background(), []models.FileDescriptor{memFile("x.gif", "image/gif", []byte("GIF89a"))})
	require.Error(t, err)
	require.NotNil(t, wb.View().Notice)

	_, err = wb.Drop(context.Background(), []models.FileDescriptor{memFile("a.pdf", "application/pdf", []byte("%PDF"))})
	require.NoError(t, err)
	wb.Wait()
	assert.Nil(t, wb.View().Notice)
}

func TestWorkbench_DragState(t *testing.T) {
	wb := newTestWorkbench(newScripted(succeedWith(models.AnalysisResult{})))

	v := wb.SetDragActive(true)
	assert.Equal(t, models.DropZoneDragActive, v.DropZone)
	version := v.Version

	v = wb.SetDragActive(true)
	assert.Equal(t, version, v.Version, "repeated enter is not a transition")

	v = wb.SetDragActive(false)
	assert.Equal(t, models.DropZoneIdle, v.DropZone)
	assert.Greater(t, v.Version, version)
}

func TestWorkbench_Subscribe(t *testing.T) {
	a := newScripted(succeedWith(models.AnalysisResult{Summary: "done"}))
	wb := newTestWorkbench(a)

	ch, unsub := wb.Subscribe()
	defer unsub()

	first := <-ch
	assert.False(t, first.Submission.IsLoading)

	_, err := wb.Drop(context.Background(), []models.FileDescriptor{memFile("a.pdf", "application/pdf", []byte("%PDF"))})
	require.NoError(t, err)
	wb.Wait()

	var last models.ViewState
	sawLoading := false
	timeout := time.After(2 * time.Second)
	for last.Result == nil {
		select {
		case v := <-ch:
			assert.Greater(t, v.Version, first.Version)
			if v.Submission.IsLoading {
				sawLoading = true
			}
			last = v
		case <-timeout:
			t.Fatal("never saw the result")
		}
	}
	assert.True(t, sawLoading)
	assert.Equal(t, "done", last.Result.Summary)
	assert.False(t, last.Submission.IsLoading)

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
}

func TestWorkbench_ThemeFromAppState(t *testing.T) {
	ctx := context.Background()
	app, err := prefs.LoadAppState(ctx, prefs.NewMemoryStore())
	require.NoError(t, err)

	wb := newTestWorkbench(newScripted(succeedWith(models.AnalysisResult{})), func(d *Deps) { d.App = app })
	assert.Equal(t, models.ThemeDark, wb.View().Theme)

	require.NoError(t, app.SetTheme(ctx, models.ThemeLight))
	assert.Equal(t, models.ThemeLight, wb.View().Theme)
}

func TestWorkbench_CloseEndsSubscriptions(t *testing.T) {
	wb := newTestWorkbench(newScripted(succeedWith(models.AnalysisResult{})))
	ch, _ := wb.Subscribe()
	<-ch

	wb.Close()
	_, open := <-ch
	assert.False(t, open)

	late, _ := wb.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
