// Package analysis talks to the remote document analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/resilience"
)

const (
	opUpload = "analysis.upload"
	opHealth = "analysis.health"
)

// Analyzer is what the upload controller needs from the service.
type Analyzer interface {
	Analyze(ctx context.Context, req models.UploadRequest) (models.AnalysisResult, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	UploadPath string
	HealthPath string
	Timeout    time.Duration
	HTTPClient *http.Client
	Executor   *resilience.Executor
	Logger     *slog.Logger
}

// Client implements Analyzer over HTTP.
type Client struct {
	base       *url.URL
	uploadPath string
	healthPath string
	http       *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger
}

// uploadResponse mirrors the service's JSON body.
type uploadResponse struct {
	Success          bool   `json:"success"`
	Filename         string `json:"filename"`
	SavedFilename    string `json:"saved_filename"`
	FileURL          string `json:"file_url"`
	Summary          string `json:"summary"`
	Improvements     string `json:"improvements"`
	TextExtracted    int    `json:"text_extracted"`
	ProcessingStatus string `json:"processing_status"`
	Detail           string `json:"detail"`
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing service url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("service url must be absolute: %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	exec := opts.Executor
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig(), resilience.WithLogger(opts.Logger))
	}

	return &Client{
		base:       base,
		uploadPath: defaultPath(opts.UploadPath, "/upload"),
		healthPath: defaultPath(opts.HealthPath, "/health"),
		http:       httpClient,
		exec:       exec,
		logger:     logging.OrDefault(opts.Logger),
	}, nil
}

// BaseURL is the service root, used to resolve relative file links.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Analyze posts the file and length option and returns the parsed result.
// Failures are *ServiceError or *TransportError.
func (c *Client) Analyze(ctx context.Context, req models.UploadRequest) (models.AnalysisResult, error) {
	var result models.AnalysisResult

	err := c.exec.Execute(ctx, opUpload, func(ctx context.Context) error {
		r, err := c.upload(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, classify)
	if err != nil {
		if !IsServiceError(err) && !IsTransportError(err) {
			err = &TransportError{Op: "upload", Err: err}
		}
		return models.AnalysisResult{}, err
	}
	return result, nil
}

func (c *Client) upload(ctx context.Context, req models.UploadRequest) (models.AnalysisResult, error) {
	body, contentType, err := encodeUpload(req)
	if err != nil {
		return models.AnalysisResult{}, &TransportError{Op: "upload", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.uploadPath), body)
	if err != nil {
		return models.AnalysisResult{}, &TransportError{Op: "upload", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return models.AnalysisResult{}, &TransportError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.AnalysisResult{}, &TransportError{Op: "upload", StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("analysis_response",
		"request_id", req.ID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.AnalysisResult{}, &TransportError{
			Op:         "upload",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, snippet(raw)),
		}
	}

	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return models.AnalysisResult{}, &TransportError{Op: "upload", Err: fmt.Errorf("decoding response: %w", err)}
	}

	if !decoded.Success {
		return models.AnalysisResult{}, &ServiceError{Detail: decoded.Detail}
	}

	return models.AnalysisResult{
		Success:          true,
		Summary:          decoded.Summary,
		Improvements:     decoded.Improvements,
		FileURL:          decoded.FileURL,
		FileName:         decoded.Filename,
		SavedFileName:    decoded.SavedFilename,
		TextExtracted:    decoded.TextExtracted,
		ProcessingStatus: decoded.ProcessingStatus,
	}, nil
}

// Health probes GET {base}/health.
func (c *Client) Health(ctx context.Context) error {
	return c.exec.Execute(ctx, opHealth, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.healthPath), nil)
		if err != nil {
			return &TransportError{Op: "health", Err: err}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return &TransportError{Op: "health", Err: err}
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &TransportError{Op: "health", StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
		}
		return nil
	}, classify)
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeUpload builds the multipart body. It is rebuilt on every attempt
// because the source is re-opened each time.
func encodeUpload(req models.UploadRequest) (io.Reader, string, error) {
	src, err := req.File.Open()
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", req.File.Name, err)
	}
	defer src.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(req.File.Name)))
	contentType := req.File.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("copying file: %w", err)
	}

	length := req.Length
	if length == "" {
		length = models.DefaultLength
	}
	if err := w.WriteField("length", string(length)); err != nil {
		return nil, "", fmt.Errorf("writing length: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

func defaultPath(p, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
