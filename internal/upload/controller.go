// Package upload owns the submission state machine: Idle -> Submitting -> Idle.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docsum/workbench/internal/analysis"
	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/metrics"
	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/prefs"
	"github.com/google/uuid"
)

// ErrSubmissionInFlight is returned when a submission is attempted while
// another one is loading. Nothing changes when it is returned.
var ErrSubmissionInFlight = errors.New("a submission is already in flight")

// GenericFailureNotice is shown for transport failures. The cause is logged.
const GenericFailureNotice = "Upload failed. Check console for details."

const defaultTimeout = 2 * time.Minute

// Transition names what produced a Snapshot.
type Transition string

const (
	TransitionLength Transition = "length"
	TransitionBegin  Transition = "begin"
	TransitionFinish Transition = "finish"
)

// Snapshot is the controller state after one transition. Seq increases by
// one per transition so listeners can discard stale deliveries.
type Snapshot struct {
	Seq        uint64
	Transition Transition
	State      models.SubmissionState
	Result     *models.AnalysisResult
	Notice     *models.Notice

	// InFlight is the request being submitted, nil when idle.
	InFlight *models.UploadRequest
}

// Outcome is how one submission resolved.
type Outcome struct {
	Request  models.UploadRequest
	Kind     models.Outcome
	Result   *models.AnalysisResult
	Notice   *models.Notice
	Err      error
	Duration time.Duration
}

// Options configures a Controller.
type Options struct {
	Analyzer  analysis.Analyzer
	Timeout   time.Duration
	SessionID string
	Journal   prefs.Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Controller runs one submission at a time against the analysis service.
type Controller struct {
	analyzer  analysis.Analyzer
	timeout   time.Duration
	sessionID string
	journal   prefs.Journal
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	seq       uint64
	state     models.SubmissionState
	result    *models.AnalysisResult
	notice    *models.Notice
	inFlight  *models.UploadRequest
	listeners map[int]func(Snapshot)
	nextID    int
}

func NewController(opts Options) *Controller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Controller{
		analyzer:  opts.Analyzer,
		timeout:   timeout,
		sessionID: opts.SessionID,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		logger:    logging.OrDefault(opts.Logger),
		state:     models.InitialSubmissionState(),
		listeners: make(map[int]func(Snapshot)),
	}
}

// State returns the current SubmissionState.
func (c *Controller) State() models.SubmissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state, result and notice together.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked("")
}

// SetLengthOption selects the length for later submissions. Values other
// than short, medium and long are ignored and false is returned.
func (c *Controller) SetLengthOption(option string) bool {
	length, ok := models.ParseLengthOption(option)
	if !ok {
		return false
	}

	c.mu.Lock()
	if c.state.SelectedLength == length {
		c.mu.Unlock()
		return true
	}
	c.state.SelectedLength = length
	snap := c.transitionLocked(TransitionLength)
	c.mu.Unlock()

	c.publish(snap)
	return true
}

// NewRequest builds an UploadRequest for file using the selected length.
func (c *Controller) NewRequest(file models.FileDescriptor) models.UploadRequest {
	return models.UploadRequest{
		ID:     uuid.New().String(),
		File:   file,
		Length: c.State().SelectedLength,
	}
}

// Begin moves Idle to Submitting. It fails with ErrSubmissionInFlight if a
// submission is already loading.
func (c *Controller) Begin(req models.UploadRequest) error {
	c.mu.Lock()
	if c.state.IsLoading {
		c.mu.Unlock()
		return ErrSubmissionInFlight
	}
	c.state.IsLoading = true
	c.state.Phase = models.PhaseSubmitting
	c.notice = nil
	r := req
	c.inFlight = &r
	snap := c.transitionLocked(TransitionBegin)
	c.mu.Unlock()

	c.logger.Info("submission_started",
		"request_id", req.ID,
		"file", req.File.Name,
		"mime_type", req.File.MIMEType,
		"size", req.File.Size,
		"length", req.Length,
	)
	c.publish(snap)
	return nil
}

// Submit runs a submission to completion and returns its outcome.
func (c *Controller) Submit(ctx context.Context, req models.UploadRequest) (Outcome, error) {
	if err := c.Begin(req); err != nil {
		return Outcome{}, err
	}
	return c.run(ctx, req), nil
}

// SubmitAsync takes the in-flight gate before returning and runs the
// submission on its own goroutine. The channel receives one Outcome.
func (c *Controller) SubmitAsync(ctx context.Context, req models.UploadRequest) (<-chan Outcome, error) {
	if err := c.Begin(req); err != nil {
		return nil, err
	}
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		out <- c.run(ctx, req)
	}()
	return out, nil
}

// OnTransition registers fn for every transition. fn runs on the goroutine
// that caused the transition and must not block.
func (c *Controller) OnTransition(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Subscribe delivers each SubmissionState as a whole value. When the reader
// falls behind the oldest pending state is dropped, so the newest always
// arrives.
func (c *Controller) Subscribe() (<-chan models.SubmissionState, func()) {
	ch := make(chan models.SubmissionState, 16)
	var once sync.Once
	var closeMu sync.Mutex
	closed := false
	var last uint64

	unsub := c.OnTransition(func(s Snapshot) {
		closeMu.Lock()
		defer closeMu.Unlock()
		if closed || s.Seq <= last {
			return
		}
		last = s.Seq
		for {
			select {
			case ch <- s.State:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})

	return ch, func() {
		once.Do(func() {
			unsub()
			closeMu.Lock()
			closed = true
			close(ch)
			closeMu.Unlock()
		})
	}
}

func (c *Controller) run(parent context.Context, req models.UploadRequest) (out Outcome) {
	start := time.Now()

	// the submission outlives whatever started it; only the timeout bounds it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err := &analysis.TransportError{Op: "upload", Err: fmt.Errorf("panic: %v", r)}
			out = c.finish(req, models.AnalysisResult{}, err, start)
		}
	}()

	if c.analyzer == nil {
		return c.finish(req, models.AnalysisResult{}, &analysis.TransportError{Op: "upload", Err: errors.New("no analysis service configured")}, start)
	}
	res, err := c.analyzer.Analyze(ctx, req)
	return c.finish(req, res, err, start)
}

func (c *Controller) finish(req models.UploadRequest, res models.AnalysisResult, err error, start time.Time) Outcome {
	out := Outcome{Request: req, Err: err, Duration: time.Since(start)}
	now := time.Now()

	var se *analysis.ServiceError
	switch {
	case err == nil:
		r := res
		r.Success = true
		out.Kind = models.OutcomeSuccess
		out.Result = &r
	case errors.As(err, &se):
		detail := se.Detail
		if detail == "" {
			detail = "Unknown error"
		}
		out.Kind = models.OutcomeServiceError
		out.Notice = &models.Notice{Kind: models.NoticeService, Message: "Error: " + detail, CreatedAt: now}
	default:
		out.Kind = models.OutcomeTransportError
		out.Notice = &models.Notice{Kind: models.NoticeTransport, Message: GenericFailureNotice, CreatedAt: now}
	}

	c.mu.Lock()
	if out.Result != nil {
		r := *out.Result
		c.result = &r
	}
	c.notice = out.Notice
	c.inFlight = nil
	c.state.IsLoading = false
	c.state.Phase = models.PhaseIdle
	snap := c.transitionLocked(TransitionFinish)
	c.mu.Unlock()

	c.logOutcome(out)
	c.metrics.RecordSubmission(string(out.Kind), string(req.Length), out.Duration)
	c.publish(snap)
	c.record(out)
	return out
}

func (c *Controller) logOutcome(out Outcome) {
	attrs := []any{
		"request_id", out.Request.ID,
		"file", out.Request.File.Name,
		"length", out.Request.Length,
		"outcome", out.Kind,
		"duration_ms", out.Duration.Milliseconds(),
	}
	switch out.Kind {
	case models.OutcomeSuccess:
		c.logger.Info("submission_completed", attrs...)
	case models.OutcomeServiceError:
		c.logger.Warn("submission_rejected_by_service", append(attrs, "detail", out.Err)...)
	default:
		c.logger.Error("submission_failed", append(attrs, "error", out.Err)...)
	}
}

func (c *Controller) record(out Outcome) {
	if c.journal == nil {
		return
	}
	entry := prefs.SubmissionEntry{
		ID:         out.Request.ID,
		SessionID:  c.sessionID,
		FileName:   out.Request.File.Name,
		MIMEType:   out.Request.File.MIMEType,
		Length:     out.Request.Length,
		Outcome:    out.Kind,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		entry.Detail = out.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.journal.RecordSubmission(ctx, entry); err != nil {
		c.logger.Warn("journal_write_failed", "request_id", out.Request.ID, "error", err)
	}
}

func (c *Controller) transitionLocked(t Transition) Snapshot {
	c.seq++
	return c.snapshotLocked(t)
}

func (c *Controller) snapshotLocked(t Transition) Snapshot {
	s := Snapshot{Seq: c.seq, Transition: t, State: c.state}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	if c.notice != nil {
		n := *c.notice
		s.Notice = &n
	}
	if c.inFlight != nil {
		r := *c.inFlight
		s.InFlight = &r
	}
	return s
}

func (c *Controller) publish(s Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
