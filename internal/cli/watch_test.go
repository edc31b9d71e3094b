package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/session"
	"github.com/docsum/workbench/internal/storage"
	"github.com/docsum/workbench/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoredName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"report.pdf", false},
		{"scan.JPG", false},
		{"notes.docx", false},
		{".DS_Store", true},
		{"~$report.pdf", true},
		{"report.pdf.part", true},
		{"download.crdownload", true},
		{"upload.tmp", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ignoredName(tt.name))
		})
	}
}

func TestValidateWatchDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(file, pdfBytes, 0644))

	assert.NoError(t, validateWatchDir(dir))
	assert.Error(t, validateWatchDir(file))
	assert.Error(t, validateWatchDir(filepath.Join(dir, "missing")))
	assert.Error(t, validateWatchDir("  "))
}

func startDropWatcher(t *testing.T, dir string, debounce time.Duration, initialScan bool) *dropWatcher {
	t.Helper()
	dw, err := newDropWatcher(dir, debounce, initialScan, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dw.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = dw.Close()
	})
	return dw
}

func nextFile(t *testing.T, dw *dropWatcher) string {
	t.Helper()
	select {
	case p, ok := <-dw.Files():
		require.True(t, ok, "files channel closed")
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a dropped file")
		return ""
	}
}

func assertNoFile(t *testing.T, dw *dropWatcher, wait time.Duration) {
	t.Helper()
	select {
	case p := <-dw.Files():
		t.Fatalf("unexpected file %q", p)
	case <-time.After(wait):
	}
}

func TestDropWatcherCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	dw := startDropWatcher(t, dir, 100*time.Millisecond, false)

	path := filepath.Join(dir, "report.pdf")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.Write(pdfBytes)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	assert.Equal(t, path, nextFile(t, dw))
	assertNoFile(t, dw, 300*time.Millisecond)
}

func TestDropWatcherSkipsIgnoredFiles(t *testing.T) {
	dir := t.TempDir()
	dw := startDropWatcher(t, dir, 50*time.Millisecond, false)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.pdf"), pdfBytes, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.jpg.part"), pdfBytes, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	assertNoFile(t, dw, 300*time.Millisecond)
}

func TestDropWatcherInitialScan(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(a, pdfBytes, 0644))
	require.NoError(t, os.WriteFile(b, pdfBytes, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".skip"), pdfBytes, 0644))

	dw := startDropWatcher(t, dir, 10*time.Millisecond, true)

	assert.Equal(t, a, nextFile(t, dw))
	assert.Equal(t, b, nextFile(t, dw))
}

func TestHandleDroppedFileRefusesWhileLoading(t *testing.T) {
	fake := testutil.NewFakeAnalysis(t)
	fake.Hold()

	client := newTestClient(t, fake.URL)
	spool, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	wb := session.NewWorkbench("watch-test", session.Deps{
		Analyzer:    client,
		ServiceBase: client.BaseURL(),
		Timeout:     5 * time.Second,
		Spool:       spool,
		Logger:      logging.Discard(),
	})
	defer wb.Close()

	var out bytes.Buffer
	l := dropLoop{
		wb:       wb,
		spool:    spool,
		renderer: preview.NewTerminalRenderer(&out, "dark"),
		out:      &out,
		logger:   logging.Discard(),
	}
	dir := t.TempDir()
	first := filepath.Join(dir, "first.pdf")
	second := filepath.Join(dir, "second.pdf")
	require.NoError(t, os.WriteFile(first, pdfBytes, 0644))
	require.NoError(t, os.WriteFile(second, pdfBytes, 0644))

	ctx := context.Background()
	handleDroppedFile(ctx, l, first)
	<-fake.Entered()
	handleDroppedFile(ctx, l, second)

	assert.Contains(t, out.String(), "Processing first.pdf...")
	assert.Contains(t, out.String(), "Refused second.pdf: "+session.BusyNotice)

	fake.Release()
	wb.Wait()
	assert.Equal(t, 1, fake.Calls())

	upload, ok := fake.LastUpload()
	require.True(t, ok)
	assert.Equal(t, "first.pdf", upload.FileName)

	// both spooled copies are gone
	files, err := spool.List(0)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestHandleDroppedFileRendersRejection(t *testing.T) {
	fake := testutil.NewFakeAnalysis(t)
	client := newTestClient(t, fake.URL)
	spool, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	wb := session.NewWorkbench("watch-test", session.Deps{
		Analyzer:    client,
		ServiceBase: client.BaseURL(),
		Spool:       spool,
		Logger:      logging.Discard(),
	})
	defer wb.Close()

	var out bytes.Buffer
	l := dropLoop{
		wb:       wb,
		spool:    spool,
		renderer: preview.NewTerminalRenderer(&out, "light"),
		out:      &out,
		logger:   logging.Discard(),
	}
	path := filepath.Join(t.TempDir(), "animation.gif")
	require.NoError(t, os.WriteFile(path, []byte("GIF89a"), 0644))

	handleDroppedFile(context.Background(), l, path)

	assert.True(t, strings.Contains(out.String(), preview.MsgUnsupportedType))
	assert.Zero(t, fake.Calls())
}
