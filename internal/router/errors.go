package router

import (
	"context"
	"errors"
	"net/http"

	"github.com/pysugar/universal-ai-router/internal/ratelimit"
	"github.com/pysugar/universal-ai-router/internal/safeop"
	"github.com/pysugar/universal-ai-router/internal/upstream"
	"github.com/pysugar/universal-ai-router/internal/validation"
)

const (
	ErrorTypeValidation  = "validation_error"
	ErrorTypeRateLimit   = "rate_limit_error"
	ErrorTypeCircuitOpen = "circuit_open"
	ErrorTypeCostLimit   = "cost_limit_exceeded"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeCanceled    = "request_canceled"
	ErrorTypeProvider    = "provider_error"
	ErrorTypeUnavailable = "provider_unavailable"
	ErrorTypeInternal    = "internal_error"
)

// Classification is how a failure is rendered to the caller.
type Classification struct {
	Type      string
	Status    int
	Retryable bool
	Message   string
}

// Classify maps any error from the generate path to a response class.
// Validation is 400, rate limiting 429, everything else 500.
func Classify(err error) Classification {
	var verr *validation.Error
	var perr *upstream.ProviderError
	var serr *safeop.Error

	switch {
	case err == nil:
		return Classification{Type: ErrorTypeInternal, Status: http.StatusInternalServerError, Message: "internal error"}
	case errors.As(err, &verr):
		return Classification{Type: ErrorTypeValidation, Status: http.StatusBadRequest, Message: verr.Error()}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return Classification{Type: ErrorTypeRateLimit, Status: http.StatusTooManyRequests, Retryable: true, Message: "Rate limit exceeded. Please try again later."}
	case errors.Is(err, safeop.ErrCircuitOpen):
		return Classification{Type: ErrorTypeCircuitOpen, Status: http.StatusInternalServerError, Retryable: true, Message: err.Error()}
	case errors.Is(err, safeop.ErrCostLimit):
		return Classification{Type: ErrorTypeCostLimit, Status: http.StatusInternalServerError, Message: err.Error()}
	case errors.Is(err, upstream.ErrProviderUnavailable):
		return Classification{Type: ErrorTypeUnavailable, Status: http.StatusInternalServerError, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return Classification{Type: ErrorTypeCanceled, Status: http.StatusInternalServerError, Message: "request canceled"}
	case errors.Is(err, safeop.ErrAttemptTimeout), errors.Is(err, context.DeadlineExceeded):
		return Classification{Type: ErrorTypeTimeout, Status: http.StatusInternalServerError, Retryable: true, Message: err.Error()}
	case errors.As(err, &perr):
		return Classification{Type: ErrorTypeProvider, Status: http.StatusInternalServerError, Retryable: perr.Retryable, Message: perr.Error()}
	case errors.As(err, &serr):
		return Classification{Type: ErrorTypeProvider, Status: http.StatusInternalServerError, Retryable: serr.Retryable, Message: serr.Error()}
	default:
		return Classification{Type: ErrorTypeInternal, Status: http.StatusInternalServerError, Message: "internal error"}
	}
}
