package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/docsum/workbench/internal/analysis"
	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/metrics"
	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/prefs"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/storage"
	"github.com/docsum/workbench/internal/upload"
)

// BusyNotice is shown when a file arrives while a submission is loading.
const BusyNotice = "A document is already being processed. Please wait for it to finish."

// Deps are shared by every Workbench.
type Deps struct {
	Analyzer    analysis.Analyzer
	ServiceBase string
	Timeout     time.Duration
	Validator   *preview.Validator
	Spool       storage.Store
	App         *prefs.AppState
	Journal     prefs.Journal
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Workbench composes one upload controller with the preview and result
// renderer for one user. All view state is guarded by mu and published as
// whole ViewState values.
type Workbench struct {
	id         string
	deps       Deps
	validator  *preview.Validator
	controller *upload.Controller
	logger     *slog.Logger

	mu         sync.Mutex
	version    uint64
	ctrlSeq    uint64
	submission models.SubmissionState
	zone       preview.DropZone
	currentReq string
	preview    *models.PreviewState
	result     *models.RenderedResult
	notice     *models.Notice
	subs       map[int]chan models.ViewState
	nextSub    int
	closed     bool

	wg sync.WaitGroup
}

// NewWorkbench builds a Workbench. id tags journal rows and log lines.
func NewWorkbench(id string, deps Deps) *Workbench {
	logger := logging.OrDefault(deps.Logger).With("session_id", id)
	validator := deps.Validator
	if validator == nil {
		validator = preview.NewValidator(0, nil)
	}

	wb := &Workbench{
		id:        id,
		deps:      deps,
		validator: validator,
		logger:    logger,
		subs:      make(map[int]chan models.ViewState),
	}
	wb.controller = upload.NewController(upload.Options{
		Analyzer:  deps.Analyzer,
		Timeout:   deps.Timeout,
		SessionID: id,
		Journal:   deps.Journal,
		Metrics:   deps.Metrics,
		Logger:    logger,
	})
	wb.submission = wb.controller.State()
	wb.controller.OnTransition(wb.applyController)
	return wb
}

// ID returns the session id.
func (w *Workbench) ID() string {
	return w.id
}

// Controller exposes the underlying state machine.
func (w *Workbench) Controller() *upload.Controller {
	return w.controller
}

// Busy reports whether a submission is loading.
func (w *Workbench) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submission.IsLoading
}

// View returns a consistent snapshot of everything on screen.
func (w *Workbench) View() models.ViewState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Subscribe streams a ViewState after every transition, starting with the
// current one. A slow reader loses intermediate views but always gets the
// newest.
func (w *Workbench) Subscribe() (<-chan models.ViewState, func()) {
	ch := make(chan models.ViewState, 8)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	ch <- w.viewLocked()
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if _, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(ch)
			}
		})
	}
}

// SetLengthOption forwards to the controller. Invalid values are ignored.
func (w *Workbench) SetLengthOption(option string) bool {
	return w.controller.SetLengthOption(option)
}

// SetDragActive toggles the drag highlight.
func (w *Workbench) SetDragActive(active bool) models.ViewState {
	w.mu.Lock()
	defer w.mu.Unlock()

	before := w.zone.State()
	if active {
		w.zone.DragEnter()
	} else {
		w.zone.DragLeave()
	}
	if w.zone.State() != before {
		w.bumpLocked()
	}
	return w.viewLocked()
}

// Refresh republishes the view, used when shared state such as the theme changes.
func (w *Workbench) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bumpLocked()
}

// Drop handles files dropped or selected by the user. On success the
// returned request is in flight. On failure nothing but the notice changes
// and the error is one of preview.ErrNoFile, preview.ErrBatchRejected,
// *preview.ValidationError or upload.ErrSubmissionInFlight.
func (w *Workbench) Drop(ctx context.Context, files []models.FileDescriptor) (models.UploadRequest, error) {
	if w.Busy() {
		w.reject(files, models.NoticeBusy, BusyNotice, "busy")
		return models.UploadRequest{}, upload.ErrSubmissionInFlight
	}

	file, err := preview.SelectDrop(files)
	switch {
	case errors.Is(err, preview.ErrNoFile):
		return models.UploadRequest{}, err
	case errors.Is(err, preview.ErrBatchRejected):
		w.reject(files, models.NoticeBatch, preview.MsgBatchRejected, "batch")
		return models.UploadRequest{}, err
	}

	if err := w.validator.Validate(file); err != nil {
		var ve *preview.ValidationError
		msg, reason := preview.MsgUnsupportedType, "invalid"
		if errors.As(err, &ve) {
			msg = ve.Message
			if errors.Is(err, preview.ErrTooLarge) {
				reason = "too_large"
			} else {
				reason = "unsupported_type"
			}
		}
		w.reject(files, models.NoticeValidation, msg, reason)
		return models.UploadRequest{}, err
	}

	req := w.controller.NewRequest(file)
	outcome, err := w.controller.SubmitAsync(ctx, req)
	if err != nil {
		// lost the race with another drop
		w.reject(files, models.NoticeBusy, BusyNotice, "busy")
		return models.UploadRequest{}, err
	}

	if w.deps.Spool != nil && file.SpoolID != "" {
		if err := w.deps.Spool.SetStatus(file.SpoolID, models.SpoolStatusSubmitting); err != nil {
			w.logger.Warn("spool_status_failed", "spool_id", file.SpoolID, "error", err)
		}
	}

	previewDone := make(chan struct{})
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		defer close(previewDone)
		w.awaitPreview(req, preview.BuildPreview(context.WithoutCancel(ctx), file))
	}()
	go func() {
		defer w.wg.Done()
		<-outcome
		<-previewDone
		w.releaseSpool(file)
	}()

	return req, nil
}

// Wait blocks until background preview and submission work has finished.
func (w *Workbench) Wait() {
	w.wg.Wait()
}

// Close waits for background work and ends all subscriptions.
func (w *Workbench) Close() {
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

// applyController folds a controller transition into the view.
func (w *Workbench) applyController(s upload.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s.Seq <= w.ctrlSeq {
		return
	}
	w.ctrlSeq = s.Seq
	if w.submission.IsLoading != s.State.IsLoading {
		w.zone.SetLoading(s.State.IsLoading)
	}
	w.submission = s.State

	switch s.Transition {
	case upload.TransitionBegin:
		w.notice = nil
		if s.InFlight != nil {
			f := s.InFlight.File
			w.currentReq = s.InFlight.ID
			w.preview = &models.PreviewState{
				FileName: f.Name,
				MIMEType: f.MIMEType,
				IsPDF:    f.IsPDF(),
				Pending:  f.IsImage(),
			}
		}
	case upload.TransitionFinish:
		w.notice = s.Notice
		if s.Result != nil {
			r := preview.RenderResult(*s.Result)
			r.DownloadURL = preview.ResolveFileURL(w.deps.ServiceBase, r.DownloadURL)
			w.result = &r
		}
	}
	w.bumpLocked()
}

func (w *Workbench) awaitPreview(req models.UploadRequest, ch <-chan preview.PreviewResult) {
	res, ok := <-ch
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentReq != req.ID {
		w.logger.Debug("stale_preview_dropped", "request_id", req.ID)
		return
	}
	if res.Err != nil {
		w.logger.Warn("preview_failed", "request_id", req.ID, "file", req.File.Name, "error", res.Err)
		if w.preview != nil {
			p := *w.preview
			p.Pending = false
			w.preview = &p
		}
		w.bumpLocked()
		return
	}
	p := res.Preview
	p.Pending = false
	w.preview = &p
	w.bumpLocked()
}

func (w *Workbench) reject(files []models.FileDescriptor, kind models.NoticeKind, msg, reason string) {
	w.deps.Metrics.RecordRejection(reason)
	w.logger.Info("drop_rejected", "reason", reason, "files", len(files))
	for _, f := range files {
		w.releaseSpool(f)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.notice = &models.Notice{Kind: kind, Message: msg, CreatedAt: time.Now()}
	w.bumpLocked()
}

func (w *Workbench) releaseSpool(f models.FileDescriptor) {
	if w.deps.Spool == nil || f.SpoolID == "" {
		return
	}
	if err := w.deps.Spool.Delete(f.SpoolID); err != nil {
		w.logger.Warn("spool_delete_failed", "spool_id", f.SpoolID, "error", err)
	}
}

func (w *Workbench) theme() models.Theme {
	if w.deps.App == nil {
		return models.DefaultTheme
	}
	return w.deps.App.Theme()
}

func (w *Workbench) viewLocked() models.ViewState {
	v := models.ViewState{
		Version:    w.version,
		Submission: w.submission,
		DropZone:   w.zone.State(),
		Theme:      w.theme(),
	}
	if w.preview != nil {
		p := *w.preview
		v.Preview = &p
	}
	if w.result != nil {
		r := *w.result
		v.Result = &r
	}
	if w.notice != nil {
		n := *w.notice
		v.Notice = &n
	}
	return v
}

// bumpLocked advances the version and pushes the new view to subscribers.
func (w *Workbench) bumpLocked() {
	w.version++
	v := w.viewLocked()
	for _, ch := range w.subs {
		for {
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
