package cost

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pysugar/universal-ai-router/internal/db/models"
	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/upstream"
)

const defaultPersistTimeout = 5 * time.Second

// Entry is one completed generation to be priced and recorded.
type Entry struct {
	Provider  catalog.ProviderID
	Model     string
	Usage     upstream.Usage
	CallerID  string
	RequestID string
}

// Tracker prices token usage and appends a UsageRecord per call. Writes are
// asynchronous by default; a failed write is logged and never reaches the caller.
type Tracker struct {
	store          UsageStore
	catalog        *catalog.Catalog
	logger         logrus.FieldLogger
	now            func() time.Time
	async          bool
	persistTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	recorded atomic.Int64
	failed   atomic.Int64
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSyncWrites makes Track wait for the store before returning.
func WithSyncWrites() Option {
	return func(t *Tracker) { t.async = false }
}

func NewTracker(store UsageStore, cat *catalog.Catalog, opts ...Option) *Tracker {
	t := &Tracker{
		store:          store,
		catalog:        cat,
		logger:         logrus.StandardLogger(),
		now:            time.Now,
		async:          true,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Cost prices a token count without recording anything.
func (t *Tracker) Cost(provider catalog.ProviderID, promptTokens, completionTokens int) (float64, error) {
	cfg, ok := t.catalog.Get(provider)
	if !ok {
		return 0, fmt.Errorf("no pricing for provider %q", provider)
	}
	return cfg.Cost(promptTokens, completionTokens), nil
}

// TrackUsage prices and records a call and returns its estimated cost.
func (t *Tracker) TrackUsage(ctx context.Context, provider catalog.ProviderID, promptTokens, completionTokens int, callerID string) float64 {
	cost, err := t.Track(ctx, Entry{
		Provider: provider,
		Usage: upstream.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		CallerID: callerID,
	})
	if err != nil {
		t.logger.WithError(err).WithField("event", "usage_unpriced").Warn("Usage not recorded")
	}
	return cost
}

// Track prices e and appends exactly one record. It fails only when the
// provider has no pricing, in which case nothing is written.
func (t *Tracker) Track(ctx context.Context, e Entry) (float64, error) {
	cost, err := t.Cost(e.Provider, e.Usage.PromptTokens, e.Usage.CompletionTokens)
	if err != nil {
		return 0, err
	}

	total := e.Usage.TotalTokens
	if total == 0 {
		total = e.Usage.PromptTokens + e.Usage.CompletionTokens
	}
	rec := models.UsageRecord{
		ID:               uuid.NewString(),
		Timestamp:        t.now().UnixMilli(),
		Provider:         string(e.Provider),
		Model:            e.Model,
		PromptTokens:     e.Usage.PromptTokens,
		CompletionTokens: e.Usage.CompletionTokens,
		TotalTokens:      total,
		EstimatedCost:    cost,
		Estimated:        e.Usage.Estimated,
		CallerID:         e.CallerID,
		RequestID:        e.RequestID,
	}

	// persistence outlives the request that triggered it
	pctx := context.WithoutCancel(ctx)
	t.mu.Lock()
	if !t.async || t.closed {
		t.mu.Unlock()
		t.persist(pctx, rec)
		return cost, nil
	}
	t.wg.Add(1)
	t.mu.Unlock()
	go func() {
		defer t.wg.Done()
		t.persist(pctx, rec)
	}()
	return cost, nil
}

func (t *Tracker) persist(ctx context.Context, rec models.UsageRecord) {
	ctx, cancel := context.WithTimeout(ctx, t.persistTimeout)
	defer cancel()
	if err := t.store.Append(ctx, rec); err != nil {
		t.failed.Add(1)
		t.logger.WithFields(logrus.Fields{
			"event":      "usage_persist_failed",
			"provider":   rec.Provider,
			"request_id": rec.RequestID,
		}).WithError(err).Error("Failed to save usage record")
		return
	}
	t.recorded.Add(1)
}

// GetUsageStats aggregates records in the trailing window, optionally for one caller.
func (t *Tracker) GetUsageStats(ctx context.Context, callerID string, window time.Duration) (models.UsageStats, error) {
	if window <= 0 {
		return models.UsageStats{}, fmt.Errorf("invalid usage window %s", window)
	}
	return t.store.Aggregate(ctx, models.UsageQuery{
		SinceMillis: t.now().Add(-window).UnixMilli(),
		CallerID:    callerID,
	})
}

// Close waits for pending writes. Track keeps working afterwards but
// persists synchronously, so no write is started that Close did not wait for.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// Counters reports how many writes succeeded and failed since start.
func (t *Tracker) Counters() (recorded, failed int64) {
	return t.recorded.Load(), t.failed.Load()
}
