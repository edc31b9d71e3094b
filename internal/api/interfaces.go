// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/session"
	"github.com/labstack/echo/v4"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// WorkbenchHandler handles the upload workflow of the caller's session
type WorkbenchHandler interface {
	HandleGetState(c echo.Context) error
	HandleSetLength(c echo.Context) error
	HandleDrag(c echo.Context) error
	HandleSubmitDocument(c echo.Context) error
}

// PreferencesHandler handles the theme and the submission journal
type PreferencesHandler interface {
	HandleGetTheme(c echo.Context) error
	HandleSetTheme(c echo.Context) error
	HandleRecentSubmissions(c echo.Context) error
}

// StreamHandler pushes state changes over a websocket
type StreamHandler interface {
	HandleWebSocket(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	GetOrCreate(id string) *session.Workbench
	Touch(id string) bool
}

// HealthProber checks the remote analysis service.
type HealthProber interface {
	Health(ctx context.Context) error
}

// ThemeState is the process-wide theme.
type ThemeState interface {
	Theme() models.Theme
	SetTheme(ctx context.Context, t models.Theme) error
}
