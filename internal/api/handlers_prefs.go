// handlers_prefs.go - Theme preference and submission journal handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/docsum/workbench/internal/models"
	"github.com/docsum/workbench/internal/prefs"
	"github.com/labstack/echo/v4"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// PreferencesHandlerImpl implements the PreferencesHandler interface
type PreferencesHandlerImpl struct {
	app     ThemeState
	journal prefs.Journal
}

// NewPreferencesHandler creates a new preferences handler. journal may be nil.
func NewPreferencesHandler(app ThemeState, journal prefs.Journal) PreferencesHandler {
	return &PreferencesHandlerImpl{app: app, journal: journal}
}

type themePayload struct {
	Theme string `json:"theme"`
}

// HandleGetTheme returns the current theme
func (h *PreferencesHandlerImpl) HandleGetTheme(c echo.Context) error {
	return c.JSON(http.StatusOK, themePayload{Theme: string(h.app.Theme())})
}

// HandleSetTheme persists a new theme and pushes it to every open workbench
func (h *PreferencesHandlerImpl) HandleSetTheme(c echo.Context) error {
	var req themePayload
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	theme, ok := models.ParseTheme(req.Theme)
	if !ok {
		return NewBadRequestError("theme must be dark or light", nil)
	}
	if err := h.app.SetTheme(c.Request().Context(), theme); err != nil {
		return NewInternalError("failed to save theme", err)
	}
	return c.JSON(http.StatusOK, themePayload{Theme: string(h.app.Theme())})
}

// HandleRecentSubmissions lists the newest journal entries
func (h *PreferencesHandlerImpl) HandleRecentSubmissions(c echo.Context) error {
	limit := defaultJournalLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewBadRequestError("limit must be a positive integer", err)
		}
		limit = min(n, maxJournalLimit)
	}

	if h.journal == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"submissions": []prefs.SubmissionEntry{}})
	}

	entries, err := h.journal.RecentSubmissions(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read submission journal", err)
	}
	if entries == nil {
		entries = []prefs.SubmissionEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"submissions": entries})
}
