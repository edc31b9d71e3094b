// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthProbeTimeout = 3 * time.Second

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version     string
	prober      HealthProber
	serviceBase string
	sessions    interface{ Count() int }
}

// NewHealthHandler creates a new health handler. prober and sessions may be nil.
func NewHealthHandler(version string, prober HealthProber, serviceBase string, sessions interface{ Count() int }) HealthHandler {
	return &HealthHandlerImpl{
		version:     version,
		prober:      prober,
		serviceBase: serviceBase,
		sessions:    sessions,
	}
}

// HandleHealth returns server health status. The workbench stays "ok" when
// the analysis service is down; that is reported separately.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.sessions != nil {
		resp["sessions"] = h.sessions.Count()
	}

	if h.prober != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
		defer cancel()

		svc := map[string]interface{}{"url": h.serviceBase, "reachable": true}
		if err := h.prober.Health(ctx); err != nil {
			svc["reachable"] = false
			svc["error"] = err.Error()
		}
		resp["analysisService"] = svc
	}

	return c.JSON(http.StatusOK, resp)
}
