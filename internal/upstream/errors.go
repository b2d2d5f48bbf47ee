package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/util"
)

// ErrProviderUnavailable means no adapter is configured for the requested provider,
// usually because its credentials could not be resolved at startup.
var ErrProviderUnavailable = errors.New("provider unavailable")

const maxErrorBody = 512

// ProviderError is a failed upstream call. Status is zero for transport failures.
type ProviderError struct {
	Provider   catalog.ProviderID
	Status     int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Provider)
	if e.Status != 0 {
		fmt.Fprintf(&b, " returned %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt may succeed.
func (e *ProviderError) IsRetryable() bool { return e.Retryable }

// IsBillable is false when the upstream answered with an error status, since
// no generation was produced. Transport failures may have reached the model.
func (e *ProviderError) IsBillable() bool { return e.Status == 0 }

// RetryAfterHint is the upstream's requested wait, zero when absent.
func (e *ProviderError) RetryAfterHint() time.Duration { return e.RetryAfter }

// NewStatusError classifies a non-2xx upstream response.
// 5xx, 408 and 429 are transient; every other status is terminal.
func NewStatusError(provider catalog.ProviderID, status int, header http.Header, body []byte) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Status:     status,
		Message:    errorMessage(body),
		Retryable:  RetryableStatus(status),
		RetryAfter: ParseRetryDelay(header, body),
	}
}

// NewTransportError wraps a failure to reach the upstream. These are always retryable.
func NewTransportError(provider catalog.ProviderID, err error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: true, Err: err}
}

// NewDecodeError wraps an unparseable 2xx body.
func NewDecodeError(provider catalog.ProviderID, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: "invalid response body", Err: err}
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// errorMessage pulls a human readable message out of the common upstream error
// envelopes ({"error":{"message":...}} and {"error":"..."}) and falls back to the raw body.
func errorMessage(body []byte) string {
	if msg := jsonErrorMessage(body); msg != "" {
		return util.TruncateLog(msg, maxErrorBody)
	}
	return util.TruncateLog(strings.TrimSpace(string(body)), maxErrorBody)
}
