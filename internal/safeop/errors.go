package safeop

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen matches every *CircuitOpenError.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrCostLimit means another retry would push estimated billed spend past the limit.
	ErrCostLimit = errors.New("cost limit exceeded")
	// ErrAttemptTimeout means a single attempt ran past its deadline.
	ErrAttemptTimeout = errors.New("attempt timed out")
)

// CircuitOpenError is returned without invoking the operation.
type CircuitOpenError struct {
	Key     string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("circuit breaker for %s is open, retry in %s", e.Key, e.RetryIn.Round(time.Second))
	}
	return fmt.Sprintf("circuit breaker for %s is open", e.Key)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Error is the terminal failure of Execute.
type Error struct {
	Key       string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// retryable is implemented by errors that know whether a retry may help.
type retryable interface {
	IsRetryable() bool
}

// retryAfterHinter is implemented by errors carrying an upstream wait request.
type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// terminalError marks an arbitrary error as not worth retrying.
type terminalError struct{ err error }

func (e terminalError) Error() string     { return e.err.Error() }
func (e terminalError) Unwrap() error     { return e.err }
func (e terminalError) IsRetryable() bool { return false }

// Terminal wraps err so Execute neither retries it nor counts it against the circuit.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsRetryable reports how Execute classifies err. Errors that do not say
// otherwise are assumed transient.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

func retryAfterHint(err error) time.Duration {
	var h retryAfterHinter
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}
	return 0
}

// billable is implemented by errors that know whether the failed attempt
// could have been charged upstream.
type billable interface {
	IsBillable() bool
}

// IsBillable reports whether an attempt ending in err counts toward the cost
// limit. Successes and errors that do not say otherwise are assumed billed.
func IsBillable(err error) bool {
	if err == nil {
		return true
	}
	var b billable
	if errors.As(err, &b) {
		return b.IsBillable()
	}
	return true
}
