package safeop

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Settings configure the per-key circuit breakers.
type Settings struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Policy bounds a single Execute call.
type Policy struct {
	MaxRetries int
	// Timeout bounds each attempt; zero disables it.
	Timeout time.Duration
	// CostLimit caps cumulative estimated spend across attempts; zero disables it.
	// Only attempts that may have been billed count toward it.
	CostLimit float64
	// AttemptCost is the worst-case estimated spend of one attempt.
	AttemptCost    float64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Jitter is the upper bound of random extra wait added to every backoff.
	Jitter time.Duration
	// Events overrides the executor's sink for attempt-level events of this call.
	Events EventSink
}

// DefaultPolicy is three retries, 30s per attempt and a 0.10 USD ceiling.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		Timeout:        30 * time.Second,
		CostLimit:      0.10,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Jitter:         100 * time.Millisecond,
	}
}

// Operation is the guarded unit of work. It must honour ctx.
type Operation[T any] func(ctx context.Context) (T, error)

// Report describes what Execute did, on success and on failure.
type Report struct {
	Attempts int
	Spent    float64
}

// Retries is the number of attempts after the first.
func (r Report) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Executor owns one circuit breaker per operation key.
type Executor struct {
	settings Settings
	sink     EventSink
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock injects the time source used by the breakers.
func WithClock(now func() time.Time) Option {
	return func(ex *Executor) { ex.now = now }
}

// WithEventSink sets the default sink. Breaker state changes always go here.
func WithEventSink(sink EventSink) Option {
	return func(ex *Executor) {
		if sink != nil {
			ex.sink = sink
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(ex *Executor) { ex.sleep = sleep }
}

func New(settings Settings, opts ...Option) *Executor {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	ex := &Executor{
		settings: settings,
		sink:     nopSink{},
		now:      time.Now,
		sleep:    sleepContext,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// Breaker returns the breaker for key, creating a closed one on first use.
func (ex *Executor) Breaker(key string) *Breaker {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	b, ok := ex.breakers[key]
	if !ok {
		b = newBreaker(key, ex.settings.FailureThreshold, ex.settings.Cooldown, ex.now, ex.stateChanged)
		ex.breakers[key] = b
	}
	return b
}

// States snapshots every known breaker.
func (ex *Executor) States() map[string]State {
	ex.mu.Lock()
	keys := make([]string, 0, len(ex.breakers))
	for k := range ex.breakers {
		keys = append(keys, k)
	}
	ex.mu.Unlock()
	sort.Strings(keys)

	out := make(map[string]State, len(keys))
	for _, k := range keys {
		out[k] = ex.Breaker(k).State()
	}
	return out
}

func (ex *Executor) stateChanged(key string, from, to State) {
	ex.sink.Emit(Event{Kind: EventStateChanged, Key: key, From: from, To: to})
}

// Execute runs op under the breaker for key with retries, a per-attempt
// timeout and a cost ceiling. The operation is invoked at most
// p.MaxRetries+1 times, and not at all while the circuit is open.
func Execute[T any](ctx context.Context, ex *Executor, key string, p Policy, op Operation[T]) (T, Report, error) {
	var zero T
	var rep Report
	sink := p.Events
	if sink == nil {
		sink = ex.sink
	}
	br := ex.Breaker(key)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, rep, &Error{Key: key, Attempts: rep.Attempts, Err: err}
		}

		if attempt > 1 && p.CostLimit > 0 && rep.Spent+p.AttemptCost > p.CostLimit {
			sink.Emit(Event{Kind: EventCostLimited, Key: key, Attempt: attempt, Spent: rep.Spent, Err: lastErr})
			return zero, rep, &Error{
				Key:      key,
				Attempts: rep.Attempts,
				Err:      fmt.Errorf("%w: spent %.6f of %.6f: %w", ErrCostLimit, rep.Spent, p.CostLimit, lastErr),
			}
		}

		if err := br.acquire(); err != nil {
			sink.Emit(Event{Kind: EventShortCircuited, Key: key, Attempt: attempt, Err: err})
			return zero, rep, &Error{Key: key, Attempts: rep.Attempts, Err: err}
		}

		rep.Attempts++
		started := ex.now()
		res, err := runAttempt(ctx, p.Timeout, op)
		if IsBillable(err) {
			rep.Spent += p.AttemptCost
		}
		if err == nil {
			br.success()
			return res, rep, nil
		}

		if ctx.Err() != nil {
			br.neutral()
			return zero, rep, &Error{Key: key, Attempts: rep.Attempts, Err: err}
		}

		retry := IsRetryable(err)
		if retry {
			br.failure()
		} else {
			br.neutral()
		}
		lastErr = err

		final := !retry || attempt > p.MaxRetries
		var wait time.Duration
		if !final {
			wait = p.backoff(attempt, retryAfterHint(err))
		}
		sink.Emit(Event{
			Kind:      EventAttemptFailed,
			Key:       key,
			Attempt:   attempt,
			Err:       err,
			Retryable: retry,
			Backoff:   wait,
			Elapsed:   ex.now().Sub(started),
		})
		if final {
			return zero, rep, &Error{Key: key, Attempts: rep.Attempts, Retryable: retry, Err: err}
		}

		if err := ex.sleep(ctx, wait); err != nil {
			return zero, rep, &Error{Key: key, Attempts: rep.Attempts, Err: fmt.Errorf("%w while waiting to retry: %w", err, lastErr)}
		}
	}
}

// backoff is InitialBackoff doubled per attempt, raised to an upstream hint,
// capped at MaxBackoff, plus jitter.
func (p Policy) backoff(attempt int, hint time.Duration) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt && d > 0; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
	}
	if hint > d {
		d = hint
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{zero, Terminal(fmt.Errorf("operation panicked: %v", r))}
			}
		}()
		v, err := op(actx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return o.val, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, timeout, o.err)
		}
		return o.val, o.err
	case <-actx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
