package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docsum/workbench/internal/analysis"
	"github.com/docsum/workbench/internal/config"
	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/metrics"
	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/prefs"
	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/resilience"
	"github.com/docsum/workbench/internal/session"
	"github.com/docsum/workbench/internal/storage"
	"github.com/sony/gobreaker/v2"
)

const serviceName = "docsum"

// prefsStore is the persistence behind AppState and the journal.
type prefsStore interface {
	prefs.Journal
	prefs.ThemeStore
}

// app holds the components every command shares.
type app struct {
	configPath string
	cfg        *config.AppConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	executor   *resilience.Executor
	client     *analysis.Client
	spool      *storage.LocalStore
	store      prefsStore
	state      *prefs.AppState
	validator  *preview.Validator
}

type appOptions struct {
	logOutput     io.Writer
	enableMetrics bool
}

// newApp loads the config and wires the shared components.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	configPath := cfgFile
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	level := cfg.Logging.Level
	if isVerbose() {
		level = "debug"
	}
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.NewWithWriter(out, serviceName, level, cfg.Logging.Format)

	a := &app{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		validator:  preview.NewValidator(cfg.Upload.MaxSizeBytes, cfg.Upload.AllowedTypes),
	}
	if opts.enableMetrics && cfg.Metrics.Enabled {
		a.metrics = metrics.New(serviceName)
	}

	a.executor = resilience.NewExecutor(resilienceConfig(cfg.Resilience),
		resilience.WithLogger(logger),
		resilience.WithStateObserver(func(operation string, from, to gobreaker.State) {
			logger.Warn("breaker_state_changed", "operation", operation, "from", from.String(), "to", to.String())
			a.metrics.SetBreakerState(operation, int(to))
		}),
	)

	a.client, err = analysis.NewClient(analysis.Options{
		BaseURL:    cfg.Service.BaseURL,
		UploadPath: cfg.Service.UploadPath,
		HealthPath: cfg.Service.HealthPath,
		Timeout:    cfg.Service.Timeout,
		Executor:   a.executor,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	a.spool, err = storage.NewLocalStore(cfg.GetSpoolDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize spool: %w", err)
	}
	if n, err := a.spool.Purge(); err != nil {
		logger.Warn("spool_purge_failed", "error", err)
	} else if n > 0 {
		logger.Info("spool_purged", "removed", n)
	}

	a.store = openPrefs(cfg.Storage.PreferencesDB, logger)
	a.state, err = prefs.LoadAppState(ctx, a.store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	return a, nil
}

// openPrefs opens the DuckDB store. A second process finds the file locked
// and runs with in-memory preferences.
func openPrefs(path string, logger *slog.Logger) prefsStore {
	duck, err := prefs.OpenDuckStore(path, logger)
	if err != nil {
		logger.Warn("preferences_unavailable", "path", path, "error", err)
		return prefs.NewMemoryStore()
	}
	return duck
}

func resilienceConfig(c config.ResilienceConfig) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        c.RetryMaxAttempts,
		RetryInitialBackoff:     c.RetryInitialBackoff,
		RetryMaxBackoff:         c.RetryMaxBackoff,
		RetryMultiplier:         c.RetryMultiplier,
		BreakerEnabled:          c.BreakerEnabled,
		BreakerMinRequests:      c.BreakerMinRequests,
		BreakerFailureRatio:     c.BreakerFailureRatio,
		BreakerOpenTimeout:      c.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: c.BreakerHalfOpenMaxCalls,
	}
}

// sessionDeps are the Workbench dependencies for this process.
func (a *app) sessionDeps() session.Deps {
	return session.Deps{
		Analyzer:    a.client,
		ServiceBase: a.client.BaseURL(),
		Timeout:     a.cfg.Service.Timeout,
		Validator:   a.validator,
		Spool:       a.spool,
		App:         a.state,
		Journal:     a.store,
		Metrics:     a.metrics,
		Logger:      a.logger,
	}
}

// renderTheme picks the terminal theme: an explicit flag wins over the
// saved preference.
func (a *app) renderTheme(flag string) (models.Theme, error) {
	if flag == "" {
		return a.state.Theme(), nil
	}
	t, ok := models.ParseTheme(flag)
	if !ok {
		return "", fmt.Errorf("invalid theme %q (dark, light)", flag)
	}
	return t, nil
}

func (a *app) Close() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("preferences_close_failed", "error", err)
		}
	}
}
