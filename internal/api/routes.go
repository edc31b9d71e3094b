// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"

	"github.com/docsum/workbench/internal/metrics"
	"github.com/docsum/workbench/internal/prefs"
	"github.com/docsum/workbench/internal/storage"
	"github.com/labstack/echo/v4"
)

// SessionRegistry is what the routes need from the session manager.
type SessionRegistry interface {
	SessionManager
	Count() int
}

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions    SessionRegistry
	Spool       storage.Store
	App         ThemeState
	Journal     prefs.Journal
	Prober      HealthProber
	ServiceBase string
	Metrics     *metrics.Metrics
	MetricsPath string
	Version     string
	Logger      *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health      HealthHandler
	Workbench   WorkbenchHandler
	Preferences PreferencesHandler
	Stream      StreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:      NewHealthHandler(deps.Version, deps.Prober, deps.ServiceBase, deps.Sessions),
		Workbench:   NewWorkbenchHandler(deps.Sessions, deps.Spool, deps.Logger),
		Preferences: NewPreferencesHandler(deps.App, deps.Journal),
		Stream:      NewWebSocketHandler(deps.Sessions, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Workflow of the caller's session
	apiGroup.GET("/state", handlers.Workbench.HandleGetState)
	apiGroup.PUT("/length", handlers.Workbench.HandleSetLength)
	apiGroup.POST("/dropzone/drag", handlers.Workbench.HandleDrag)
	apiGroup.POST("/documents", handlers.Workbench.HandleSubmitDocument)

	// Preferences and diagnostics
	apiGroup.GET("/theme", handlers.Preferences.HandleGetTheme)
	apiGroup.PUT("/theme", handlers.Preferences.HandleSetTheme)
	apiGroup.GET("/diagnostics/submissions", handlers.Preferences.HandleRecentSubmissions)

	RegisterWebSocketRoutes(e, handlers)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws", handlers.Stream.HandleWebSocket)
}

// RegisterMetricsRoute exposes Prometheus metrics when m is non-nil.
func RegisterMetricsRoute(e *echo.Echo, m *metrics.Metrics, path string) {
	if m == nil {
		return
	}
	if path == "" {
		path = "/metrics"
	}
	e.GET(path, echo.WrapHandler(m.Handler()))
}
