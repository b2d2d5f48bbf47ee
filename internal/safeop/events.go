package safeop

import (
	"time"

	"github.com/sirupsen/logrus"
)

type EventKind int

const (
	EventAttemptFailed EventKind = iota + 1
	EventStateChanged
	EventShortCircuited
	EventCostLimited
)

func (k EventKind) String() string {
	switch k {
	case EventAttemptFailed:
		return "attempt_failed"
	case EventStateChanged:
		return "circuit_state_changed"
	case EventShortCircuited:
		return "circuit_short_circuited"
	case EventCostLimited:
		return "cost_limited"
	default:
		return "unknown"
	}
}

// Event describes something the executor observed. Fields irrelevant to Kind are zero.
type Event struct {
	Kind      EventKind
	Key       string
	Attempt   int
	Err       error
	Retryable bool
	Backoff   time.Duration
	Elapsed   time.Duration
	From, To  State
	Spent     float64
}

// EventSink receives executor events. Implementations must not block.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// LogSink renders events through logrus.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Emit(e Event) {
	if s.Logger == nil {
		return
	}
	entry := s.Logger.WithFields(logrus.Fields{
		"event": e.Kind.String(),
		"key":   e.Key,
	})
	switch e.Kind {
	case EventAttemptFailed:
		entry.WithFields(logrus.Fields{
			"attempt":    e.Attempt,
			"retryable":  e.Retryable,
			"backoff_ms": e.Backoff.Milliseconds(),
			"elapsed_ms": e.Elapsed.Milliseconds(),
		}).WithError(e.Err).Warn("Attempt failed")
	case EventStateChanged:
		entry = entry.WithFields(logrus.Fields{"from": e.From.String(), "to": e.To.String()})
		if e.To == StateOpen {
			entry.Error("Circuit opened")
		} else {
			entry.Info("Circuit state changed")
		}
	case EventShortCircuited:
		entry.WithError(e.Err).Warn("Call rejected by open circuit")
	case EventCostLimited:
		entry.WithFields(logrus.Fields{
			"attempt": e.Attempt,
			"spent":   e.Spent,
		}).Warn("Retry skipped, cost limit reached")
	}
}
