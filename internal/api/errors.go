// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/docsum/workbench/internal/preview"
	"github.com/docsum/workbench/internal/upload"
	"github.com/labstack/echo/v4"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status for the error.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Error codes returned by the workbench API.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeBatchRejected      = "BATCH_REJECTED"
	CodeSubmissionInFlight = "SUBMISSION_IN_FLIGHT"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
)

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeBadRequest,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 error carrying the user-facing rejection text
func NewValidationError(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: message,
	}
}

// NewBatchRejectedError creates a 400 error for multi-file drops
func NewBatchRejectedError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeBatchRejected,
		Message: preview.MsgBatchRejected,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 error for a drop while a submission is loading
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    CodeSubmissionInFlight,
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeUnavailable,
		Message: message,
	}
}

// dropError maps a Workbench.Drop rejection onto an APIError.
func dropError(err error) *APIError {
	var ve *preview.ValidationError
	switch {
	case errors.Is(err, upload.ErrSubmissionInFlight):
		return NewConflictError("A document is already being processed.")
	case errors.Is(err, preview.ErrBatchRejected):
		return NewBatchRejectedError()
	case errors.Is(err, preview.ErrNoFile):
		return NewBadRequestError("no file provided", nil)
	case errors.As(err, &ve):
		return NewValidationError(ve.Message)
	default:
		return NewInternalError("failed to accept document", err)
	}
}

// NewErrorHandler returns the Echo error handler.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(logger, debug)
func NewErrorHandler(logger *slog.Logger, debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError

		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
			}
			if debug {
				apiErr.Details = err.Error()
			}
		}

		if apiErr.Status >= http.StatusInternalServerError && logger != nil {
			logger.Error("request_failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"code", apiErr.Code,
				"error", err,
			)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}

// ErrorHandler is the handler with no logger and details hidden.
func ErrorHandler(err error, c echo.Context) {
	NewErrorHandler(nil, false)(err, c)
}
