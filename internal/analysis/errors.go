package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/docsum/workbench/internal/resilience"
)

// ServiceError is a well-formed failure response from the analysis service.
// Its Detail is shown to the user verbatim.
type ServiceError struct {
	Detail string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("analysis service: %s", e.Detail)
}

// TransportError covers everything between us and a parsed response: network
// failures, non-2xx statuses and malformed JSON. It never reaches the user in
// detail.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// classify decides how the resilience executor treats a failed attempt.
func classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	// the service answered; retrying will not change its mind
	if IsServiceError(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var te *TransportError
	if errors.As(err, &te) {
		if te.StatusCode != 0 {
			return resilience.ErrorClassification{
				Retryable:     isRetryableHTTPStatus(te.StatusCode),
				RecordFailure: te.StatusCode >= 500 || te.StatusCode == http.StatusTooManyRequests,
			}
		}
		var netErr net.Error
		if errors.As(te.Err, &netErr) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		// malformed body
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
