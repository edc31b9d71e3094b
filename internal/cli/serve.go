package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docsum/workbench/internal/api"
	"github.com/docsum/workbench/internal/session"
	"github.com/docsum/workbench/internal/web"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var servePort int

func newServeCommand(version, buildTime string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web workbench",
		Long: `Start the HTTP server with the embedded drag-and-drop workbench UI.

Every browser gets its own workbench session. State changes are pushed to the
page over a websocket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, version, buildTime)
		},
	}

	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")

	return cmd
}

func runServe(cmd *cobra.Command, version, buildTime string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, appOptions{enableMetrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort > 0 {
		a.cfg.Server.Port = servePort
	}

	e, mgr := newServer(a, version)
	defer mgr.Close()

	// Start background session cleanup
	go mgr.Run(ctx, a.cfg.Session.CleanupInterval, a.cfg.Session.Timeout)

	s := &http.Server{
		Addr:         a.cfg.GetServerAddr(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	printBanner(cmd.OutOrStdout(), a, version, buildTime)

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-ctx.Done():
	case sig := <-signals:
		a.logger.Info("shutdown_requested", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown_incomplete", "error", err)
	}
	cancel()
	return nil
}

// newServer builds the Echo instance with middleware, API routes and the
// embedded UI.
func newServer(a *app, version string) (*echo.Echo, *session.Manager) {
	cfg := a.cfg
	logger := a.logger

	mgr := session.NewManager(a.sessionDeps(), session.ManagerOptions{
		MaxSessions: cfg.Session.MaxSessions,
		KeepAlive:   cfg.Session.KeepAlive,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.NewErrorHandler(logger, isVerbose())

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	// Configure middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Server.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" ||
				path == "/api/state" ||
				path == metricsPath
		},
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,

		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(c.Request().Context(), level, "http_request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	e.Use(a.metrics.Middleware(func(c echo.Context) bool {
		return c.Request().URL.Path == metricsPath
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: cfg.Server.ReadTimeout,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/api/ws" ||
				strings.HasPrefix(path, "/api/documents")
		},
		ErrorMessage: "Request timeout - took too long",
	}))

	// Compression middleware
	if cfg.Server.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Server.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return c.Request().URL.Path == "/api/ws"
			},
		}))
	}

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			AllowCredentials: origins[0] != "*",
		}))
	}

	handlers := api.NewHandlers(&api.Dependencies{
		Sessions:    mgr,
		Spool:       a.spool,
		App:         a.state,
		Journal:     a.store,
		Prober:      a.client,
		ServiceBase: a.client.BaseURL(),
		Metrics:     a.metrics,
		MetricsPath: metricsPath,
		Version:     version,
		Logger:      logger,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterMetricsRoute(e, a.metrics, metricsPath)

	// Register embedded frontend
	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("static_routes_failed", "error", err)
		}
	}

	return e, mgr
}

func printBanner(out io.Writer, a *app, version, buildTime string) {
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(out, "║           Document Summary Workbench                      ║\n")
	fmt.Fprintf(out, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(out, "║  Version:    %-45s║\n", version)
	fmt.Fprintf(out, "║  Build Time: %-45s║\n", buildTime)
	fmt.Fprintf(out, "║  Service:    %-45s║\n", a.client.BaseURL())
	fmt.Fprintf(out, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(out, "║  Config:    %-46s║\n", a.configPath)
	fmt.Fprintf(out, "║  Listen:    http://%-38s║\n", a.cfg.GetServerAddr())
	fmt.Fprintf(out, "║  Data Dir:  %-46s║\n", a.cfg.GetDataDir())
	fmt.Fprintf(out, "╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "Open http://localhost:%d in your browser\n\n", a.cfg.Server.Port)
}
