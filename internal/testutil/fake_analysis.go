// fake_analysis.go - httptest stand-in for the remote analysis service
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedUpload captures what the workbench sent.
type RecordedUpload struct {
	FileName    string
	ContentType string
	Length      string
	Size        int
}

// FakeAnalysis serves POST /upload and GET /health.
type FakeAnalysis struct {
	*httptest.Server

	mu      sync.Mutex
	calls   int
	uploads []RecordedUpload
	handler func(w http.ResponseWriter)
	gate    chan struct{}
	entered chan struct{}
	healthy bool
}

// NewFakeAnalysis starts a fake that answers every upload with a generic success.
func NewFakeAnalysis(t testing.TB) *FakeAnalysis {
	t.Helper()
	f := &FakeAnalysis{healthy: true, entered: make(chan struct{}, 16)}
	f.Succeed("Summary", "Improvements")

	mux := http.NewServeMux()
	mux.HandleFunc("/upload", f.serveUpload)
	mux.HandleFunc("/health", f.serveHealth)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.Release()
		f.Server.Close()
	})
	return f
}

// Succeed answers {success:true} with the given texts.
func (f *FakeAnalysis) Succeed(summary, improvements string) {
	f.setHandler(func(w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":           true,
			"filename":          "upload",
			"saved_filename":    "20250101_000000_upload",
			"file_url":          "/files/20250101_000000_upload",
			"summary":           summary,
			"improvements":      improvements,
			"text_extracted":    42,
			"processing_status": "complete",
		})
	})
}

// Fail answers {success:false, detail}.
func (f *FakeAnalysis) Fail(detail string) {
	f.setHandler(func(w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "detail": detail})
	})
}

// Status answers with a bare status code.
func (f *FakeAnalysis) Status(code int) {
	f.setHandler(func(w http.ResponseWriter) {
		http.Error(w, http.StatusText(code), code)
	})
}

// Malformed answers 200 with a body that is not JSON.
func (f *FakeAnalysis) Malformed() {
	f.setHandler(func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "<html>gateway</html>")
	})
}

// DropConnection closes the TCP connection without a response.
func (f *FakeAnalysis) DropConnection() {
	f.setHandler(func(w http.ResponseWriter) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "no hijack", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	})
}

// Hold makes uploads block until Release is called.
func (f *FakeAnalysis) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// Release unblocks held uploads.
func (f *FakeAnalysis) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Entered signals each upload that reached the handler.
func (f *FakeAnalysis) Entered() <-chan struct{} {
	return f.entered
}

// SetHealthy controls GET /health.
func (f *FakeAnalysis) SetHealthy(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = ok
}

// Calls returns how many uploads were received.
func (f *FakeAnalysis) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastUpload returns the most recent recorded upload.
func (f *FakeAnalysis) LastUpload() (RecordedUpload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploads) == 0 {
		return RecordedUpload{}, false
	}
	return f.uploads[len(f.uploads)-1], true
}

func (f *FakeAnalysis) setHandler(h func(w http.ResponseWriter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *FakeAnalysis) serveUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec := RecordedUpload{}
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		rec.Length = r.FormValue("length")
		if file, header, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(file)
			file.Close()
			rec.FileName = header.Filename
			rec.ContentType = header.Header.Get("Content-Type")
			rec.Size = len(data)
		}
	}

	f.mu.Lock()
	f.calls++
	f.uploads = append(f.uploads, rec)
	gate := f.gate
	handler := f.handler
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	handler(w)
}

func (f *FakeAnalysis) serveHealth(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	healthy := f.healthy
	f.mu.Unlock()

	if !healthy {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
