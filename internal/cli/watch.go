package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/session"
	"github.com/docsum/workbench/internal/storage"
	"github.com/docsum/workbench/internal/upload"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	watchLength      string
	watchTheme       string
	watchDebounce    time.Duration
	watchInitialScan bool
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Summarize documents dropped into a folder",
		Long: `Watch a directory and treat every new file as a drop onto the workbench.

One document is processed at a time. A file that arrives while another is
still being analyzed is refused and has to be dropped again. Press Ctrl+C to
stop watching.

Examples:
  docsum watch ./inbox
  docsum watch --length long --initial-scan ./inbox`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().StringVarP(&watchLength, "length", "l", string(models.LengthMedium), "summary length (short, medium, long)")
	cmd.Flags().StringVar(&watchTheme, "theme", "", "terminal theme (dark, light); defaults to the saved preference")
	cmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before a new file is picked up")
	cmd.Flags().BoolVar(&watchInitialScan, "initial-scan", false, "also process files already in the directory")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if err := validateWatchDir(dir); err != nil {
		return fmt.Errorf("invalid watch directory: %w", err)
	}
	if _, ok := models.ParseLengthOption(watchLength); !ok {
		return fmt.Errorf("invalid length %q (short, medium, long)", watchLength)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, appOptions{logOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	theme, err := a.renderTheme(watchTheme)
	if err != nil {
		return err
	}
	renderer := preview.NewTerminalRenderer(cmd.OutOrStdout(), theme)

	wb := session.NewWorkbench("watch-"+uuid.NewString(), a.sessionDeps())
	defer wb.Close()
	wb.SetLengthOption(watchLength)

	dw, err := newDropWatcher(dir, watchDebounce, watchInitialScan, a.logger)
	if err != nil {
		return err
	}
	defer cleanupDropWatcher(dw)
	go dw.Run(ctx)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (length: %s). Press Ctrl+C to stop...\n", dir, watchLength)

	err = runDropLoop(ctx, dropLoop{
		watcher:  dw,
		wb:       wb,
		spool:    a.spool,
		renderer: renderer,
		out:      out,
		logger:   a.logger,
	})
	if wb.Busy() {
		fmt.Fprintln(out, "Waiting for the current document to finish...")
	}
	return err
}

type dropLoop struct {
	watcher  *dropWatcher
	wb       *session.Workbench
	spool    storage.Store
	renderer *preview.TerminalRenderer
	out      io.Writer
	logger   *slog.Logger
}

// runDropLoop runs the main watch loop with signal handling
func runDropLoop(ctx context.Context, l dropLoop) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	views, unsubscribe := l.wb.Subscribe()
	defer unsubscribe()

	loading := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-signals:
			if isVerbose() {
				fmt.Fprintf(os.Stderr, "\nReceived interrupt signal, stopping...\n")
			}
			return nil

		case path, ok := <-l.watcher.Files():
			if !ok {
				return nil
			}
			handleDroppedFile(ctx, l, path)

		case err, ok := <-l.watcher.Errors():
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			l.logger.Warn("watcher_error", "error", err)

		case v, ok := <-views:
			if !ok {
				return nil
			}
			if loading && !v.Submission.IsLoading {
				fmt.Fprint(l.out, l.renderer.Render(v))
			}
			loading = v.Submission.IsLoading
		}
	}
}

// handleDroppedFile spools path and drops it onto the workbench. Refusals
// are printed right away; accepted files print once the submission ends.
func handleDroppedFile(ctx context.Context, l dropLoop, path string) {
	name := filepath.Base(path)

	desc, err := spoolPath(l.spool, path)
	if err != nil {
		l.logger.Warn("drop_read_failed", "file", name, "error", err)
		return
	}

	req, err := l.wb.Drop(ctx, []models.FileDescriptor{desc})
	switch {
	case err == nil:
		l.logger.Info("drop_accepted", "file", name, "request_id", req.ID, "length", req.Length)
		fmt.Fprintf(l.out, "Processing %s...\n", name)
	case errors.Is(err, upload.ErrSubmissionInFlight):
		l.logger.Warn("drop_refused", "file", name, "reason", "busy")
		fmt.Fprintf(l.out, "Refused %s: %s\n", name, session.BusyNotice)
	default:
		l.logger.Info("drop_rejected", "file", name, "error", err)
		fmt.Fprint(l.out, l.renderer.Render(l.wb.View()))
	}
}

// dropWatcher turns filesystem events in one directory into settled file
// paths. Bursts of events for the same files are coalesced until the
// directory has been quiet for the debounce period.
type dropWatcher struct {
	dir         string
	watcher     *fsnotify.Watcher
	debounce    time.Duration
	initialScan bool
	logger      *slog.Logger

	files chan string
	flush chan struct{}
}

func newDropWatcher(dir string, debounce time.Duration, initialScan bool, logger *slog.Logger) (*dropWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &dropWatcher{
		dir:         dir,
		watcher:     watcher,
		debounce:    debounce,
		initialScan: initialScan,
		logger:      logger,
		files:       make(chan string, 64),
		flush:       make(chan struct{}, 1),
	}, nil
}

// Files delivers settled paths. It is closed when Run returns.
func (d *dropWatcher) Files() <-chan string {
	return d.files
}

// Errors exposes watcher errors.
func (d *dropWatcher) Errors() <-chan error {
	return d.watcher.Errors
}

func (d *dropWatcher) Close() error {
	return d.watcher.Close()
}

// Run processes events until ctx is done or the watcher is closed.
func (d *dropWatcher) Run(ctx context.Context) {
	defer close(d.files)

	pending := make(map[string]struct{})
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		if d.debounce <= 0 {
			d.requestFlush()
			return
		}
		timer = time.AfterFunc(d.debounce, d.requestFlush)
	}

	if d.initialScan {
		for _, p := range d.existingFiles() {
			pending[p] = struct{}{}
		}
		if len(pending) > 0 {
			schedule()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if d.accepts(event) {
				pending[event.Name] = struct{}{}
				schedule()
			}

		case <-d.flush:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			for _, p := range paths {
				if _, err := os.Stat(p); err != nil {
					continue
				}
				select {
				case d.files <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (d *dropWatcher) requestFlush() {
	select {
	case d.flush <- struct{}{}:
	default:
	}
}

func (d *dropWatcher) accepts(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if ignoredName(filepath.Base(event.Name)) {
		return false
	}
	info, err := os.Stat(event.Name)
	return err == nil && info.Mode().IsRegular()
}

func (d *dropWatcher) existingFiles() []string {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logger.Warn("initial_scan_failed", "dir", d.dir, "error", err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && !ignoredName(e.Name()) {
			paths = append(paths, filepath.Join(d.dir, e.Name()))
		}
	}
	return paths
}

// ignoredName matches hidden files and the partial files browsers and
// editors leave behind while writing.
func ignoredName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".part", ".crdownload", ".swp":
		return true
	}
	return false
}

// cleanupDropWatcher safely closes watcher with error logging
func cleanupDropWatcher(d *dropWatcher) {
	if err := d.Close(); err != nil && isVerbose() {
		fmt.Fprintf(os.Stderr, "Warning: failed to close watcher: %v\n", err)
	}
}

// validateWatchDir validates that a path is a directory that can be watched
func validateWatchDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty directory path")
	}
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
