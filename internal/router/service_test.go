package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/universal-ai-router/internal/cost"
	"github.com/pysugar/universal-ai-router/internal/db/models"
	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/ratelimit"
	"github.com/pysugar/universal-ai-router/internal/safeop"
	"github.com/pysugar/universal-ai-router/internal/upstream"
	"github.com/pysugar/universal-ai-router/internal/validation"
)

type stubProvider struct {
	id    catalog.ProviderID
	calls atomic.Int32
	fn    func(n int, call upstream.Call) (upstream.Result, error)
}

func (p *stubProvider) ID() catalog.ProviderID { return p.id }

func (p *stubProvider) Generate(_ context.Context, call upstream.Call) (upstream.Result, error) {
	n := int(p.calls.Add(1))
	return p.fn(n, call)
}

func pong(int, upstream.Call) (upstream.Result, error) {
	return upstream.Result{
		Text:  "pong",
		Usage: upstream.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

type countingLimiter struct {
	inner Limiter
	calls atomic.Int32
}

func (l *countingLimiter) Check(provider catalog.ProviderID, caller string) ratelimit.Decision {
	l.calls.Add(1)
	return l.inner.Check(provider, caller)
}

type fixture struct {
	svc     *Service
	store   *cost.MemoryStore
	limiter *countingLimiter
	hook    *test.Hook
	cat     *catalog.Catalog
}

type fixtureOpts struct {
	quotas    map[catalog.ProviderID]ratelimit.Quota
	settings  safeop.Settings
	policy    *safeop.Policy
	highCost  float64
	providers []upstream.Provider
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	cat := catalog.Default()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	v, err := validation.New(cat, validation.Options{})
	require.NoError(t, err)

	store := cost.NewMemoryStore()
	tracker := cost.NewTracker(store, cat, cost.WithSyncWrites(), cost.WithLogger(logger))

	limiter := &countingLimiter{inner: ratelimit.New(cat)}
	if o.quotas != nil {
		limiter.inner = ratelimit.NewWithQuotas(o.quotas)
	}

	ex := safeop.New(o.settings, safeop.WithSleep(func(context.Context, time.Duration) error { return nil }))
	policy := safeop.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}

	svc, err := New(Deps{
		Catalog:           cat,
		Validator:         v,
		Limiter:           limiter,
		Executor:          ex,
		Registry:          upstream.NewRegistry(o.providers...),
		Tracker:           tracker,
		Policy:            policy,
		HighCostThreshold: o.highCost,
		Logger:            logger,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, limiter: limiter, hook: hook, cat: cat}
}

func (f *fixture) generate(body string) Outcome {
	return f.svc.Generate(context.Background(), Inbound{Body: []byte(body), RemoteAddr: "10.0.0.7:5123"})
}

func TestGenerateGeminiPing(t *testing.T) {
	gemini := &stubProvider{id: catalog.Gemini, fn: pong}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{gemini}})

	out := f.generate(`{"prompt":"ping","provider":"gemini"}`)
	require.Equal(t, http.StatusOK, out.Status)

	resp, ok := out.Body.(SuccessResponse)
	require.True(t, ok, "body %T", out.Body)
	assert.True(t, resp.Success)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "pong", resp.Result)
	assert.Equal(t, 2, resp.Usage.TotalTokens)
	assert.Greater(t, resp.Usage.EstimatedCost, 0.0)

	cfg, _ := f.cat.Get(catalog.Gemini)
	assert.InDelta(t, cfg.Cost(1, 1), resp.Usage.EstimatedCost, 1e-15)
	assert.Equal(t, "gemini-1.5-flash", resp.Model)
	assert.NotEmpty(t, resp.Metadata.RequestID)
	assert.Equal(t, out.RequestID, resp.Metadata.RequestID)
	assert.Zero(t, resp.Metadata.Retries)

	records := f.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "gemini", records[0].Provider)
	assert.Equal(t, resp.Metadata.RequestID, records[0].RequestID)
	assert.Empty(t, records[0].CallerID)
}

func TestGeneratePassesResolvedCall(t *testing.T) {
	var got upstream.Call
	openai := &stubProvider{id: catalog.OpenAI, fn: func(_ int, call upstream.Call) (upstream.Result, error) {
		got = call
		return pong(0, call)
	}}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{openai}})

	out := f.generate(`{"prompt":"hi","provider":"openai","maxTokens":77,"temperature":0,"userId":"u-9"}`)
	require.Equal(t, http.StatusOK, out.Status)

	assert.Equal(t, "hi", got.Prompt)
	assert.Equal(t, 77, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
	assert.Equal(t, "u-9", f.store.Records()[0].CallerID)
}

func TestGenerateSkipsRecordWithoutUsage(t *testing.T) {
	openai := &stubProvider{id: catalog.OpenAI, fn: func(int, upstream.Call) (upstream.Result, error) {
		return upstream.Result{Text: "pong"}, nil
	}}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{openai}})

	out := f.generate(`{"prompt":"ping","provider":"openai"}`)
	require.Equal(t, http.StatusOK, out.Status)
	resp := out.Body.(SuccessResponse)
	assert.Equal(t, "pong", resp.Result)
	assert.Zero(t, resp.Usage.TotalTokens)
	assert.Zero(t, resp.Usage.EstimatedCost)
	assert.Empty(t, f.store.Records())

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Data["event"] == "usage_missing" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a usage_missing warning")
}

func TestGenerateRejectsEmptyPromptBeforeAdmission(t *testing.T) {
	gemini := &stubProvider{id: catalog.Gemini, fn: pong}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{gemini}})

	out := f.generate(`{"prompt":"","provider":"gemini"}`)
	require.Equal(t, http.StatusBadRequest, out.Status)

	resp, ok := out.Body.(FailureResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrorTypeValidation, resp.ErrorType)
	assert.Equal(t, "gemini", resp.Provider)
	require.NotEmpty(t, resp.Details)
	assert.Equal(t, "prompt", resp.Details[0].Field)

	assert.Zero(t, f.limiter.calls.Load(), "limiter must not be consulted")
	assert.Zero(t, gemini.calls.Load(), "provider must not be called")
	assert.Empty(t, f.store.Records())
}

func TestGenerateRateLimited(t *testing.T) {
	gemini := &stubProvider{id: catalog.Gemini, fn: pong}
	f := newFixture(t, fixtureOpts{
		providers: []upstream.Provider{gemini},
		quotas:    map[catalog.ProviderID]ratelimit.Quota{catalog.Gemini: {Requests: 2, Window: time.Minute}},
	})

	body := `{"prompt":"ping","provider":"gemini","userId":"caller-1"}`
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.generate(body).Status, "call %d", i)
	}

	out := f.generate(body)
	require.Equal(t, http.StatusTooManyRequests, out.Status)
	resp := out.Body.(FailureResponse)
	assert.Equal(t, ErrorTypeRateLimit, resp.ErrorType)
	assert.Positive(t, out.RetryAfter)
	assert.Zero(t, out.Remaining)

	assert.EqualValues(t, 2, gemini.calls.Load())
	assert.Len(t, f.store.Records(), 2, "denied call must not be recorded")

	// other callers keep their own quota
	assert.Equal(t, http.StatusOK, f.generate(`{"prompt":"ping","provider":"gemini","userId":"caller-2"}`).Status)
}

func TestGenerateFallsBackToRemoteAddrForQuota(t *testing.T) {
	gemini := &stubProvider{id: catalog.Gemini, fn: pong}
	f := newFixture(t, fixtureOpts{
		providers: []upstream.Provider{gemini},
		quotas:    map[catalog.ProviderID]ratelimit.Quota{catalog.Gemini: {Requests: 1, Window: time.Minute}},
	})

	body := `{"prompt":"ping","provider":"gemini"}`
	require.Equal(t, http.StatusOK, f.generate(body).Status)
	require.Equal(t, http.StatusTooManyRequests, f.generate(body).Status)

	other := f.svc.Generate(context.Background(), Inbound{Body: []byte(body), RemoteAddr: "10.0.0.8:4000"})
	assert.Equal(t, http.StatusOK, other.Status)
}

func TestGenerateRetriesRetryableFailure(t *testing.T) {
	anthropic := &stubProvider{id: catalog.Anthropic, fn: func(n int, call upstream.Call) (upstream.Result, error) {
		if n == 1 {
			return upstream.Result{}, upstream.NewStatusError(catalog.Anthropic, http.StatusServiceUnavailable, nil, []byte(`{"error":{"message":"overloaded"}}`))
		}
		return pong(n, call)
	}}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{anthropic}})

	out := f.generate(`{"prompt":"ping"}`)
	require.Equal(t, http.StatusOK, out.Status)
	resp := out.Body.(SuccessResponse)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, 1, resp.Metadata.Retries)
	assert.EqualValues(t, 2, anthropic.calls.Load())
	assert.Len(t, f.store.Records(), 1)
}

func TestGenerateRetriesRejectedAttemptWithLargeBudget(t *testing.T) {
	anthropic := &stubProvider{id: catalog.Anthropic, fn: func(n int, call upstream.Call) (upstream.Result, error) {
		if n == 1 {
			return upstream.Result{}, upstream.NewStatusError(catalog.Anthropic, http.StatusServiceUnavailable, nil, nil)
		}
		return pong(n, call)
	}}
	policy := safeop.DefaultPolicy()
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{anthropic}, policy: &policy})

	out := f.generate(`{"prompt":"hello","maxTokens":4096}`)
	require.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, 1, out.Body.(SuccessResponse).Metadata.Retries)
	assert.EqualValues(t, 2, anthropic.calls.Load())
}

func TestGenerateCostLimitAfterBilledAttempt(t *testing.T) {
	anthropic := &stubProvider{id: catalog.Anthropic, fn: func(int, upstream.Call) (upstream.Result, error) {
		return upstream.Result{}, &upstream.ProviderError{Provider: catalog.Anthropic, Retryable: true, Err: errors.New("connection reset")}
	}}
	policy := safeop.DefaultPolicy()
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{anthropic}, policy: &policy})

	out := f.generate(`{"prompt":"hello","maxTokens":4096}`)
	require.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, ErrorTypeCostLimit, out.Body.(FailureResponse).ErrorType)
	assert.EqualValues(t, 1, anthropic.calls.Load())
}

func TestGenerateTerminalProviderError(t *testing.T) {
	openai := &stubProvider{id: catalog.OpenAI, fn: func(int, upstream.Call) (upstream.Result, error) {
		return upstream.Result{}, upstream.NewStatusError(catalog.OpenAI, http.StatusBadRequest, nil, []byte(`{"error":{"message":"bad model"}}`))
	}}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{openai}})

	out := f.generate(`{"prompt":"ping","provider":"openai"}`)
	require.Equal(t, http.StatusInternalServerError, out.Status)
	resp := out.Body.(FailureResponse)
	assert.Equal(t, ErrorTypeProvider, resp.ErrorType)
	assert.Contains(t, resp.Error, "bad model")
	assert.Zero(t, resp.Metadata.Retries)
	assert.EqualValues(t, 1, openai.calls.Load(), "terminal errors are not retried")
	assert.Empty(t, f.store.Records())
}

func TestGenerateShortCircuitsOpenProvider(t *testing.T) {
	gemini := &stubProvider{id: catalog.Gemini, fn: func(int, upstream.Call) (upstream.Result, error) {
		return upstream.Result{}, upstream.NewStatusError(catalog.Gemini, http.StatusBadGateway, nil, nil)
	}}
	policy := safeop.DefaultPolicy()
	policy.MaxRetries = 0
	f := newFixture(t, fixtureOpts{
		providers: []upstream.Provider{gemini},
		settings:  safeop.Settings{FailureThreshold: 2, Cooldown: time.Hour},
		policy:    &policy,
	})

	body := `{"prompt":"ping","provider":"gemini"}`
	for i := 0; i < 2; i++ {
		out := f.generate(body)
		require.Equal(t, ErrorTypeProvider, out.Body.(FailureResponse).ErrorType)
	}

	out := f.generate(body)
	require.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, ErrorTypeCircuitOpen, out.Body.(FailureResponse).ErrorType)
	assert.EqualValues(t, 2, gemini.calls.Load())

	health := f.svc.Health(context.Background())
	assert.Equal(t, safeop.StateOpen, health.Circuits["gemini"])
}

func TestGenerateUnavailableProvider(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	out := f.generate(`{"prompt":"ping","provider":"openai"}`)
	require.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, ErrorTypeUnavailable, out.Body.(FailureResponse).ErrorType)
	assert.Empty(t, f.store.Records())
}

func TestGenerateWarnsOnHighCost(t *testing.T) {
	anthropic := &stubProvider{id: catalog.Anthropic, fn: func(int, upstream.Call) (upstream.Result, error) {
		return upstream.Result{Text: "long", Usage: upstream.Usage{PromptTokens: 2000, CompletionTokens: 4000}}, nil
	}}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{anthropic}, highCost: 0.05})

	out := f.generate(`{"prompt":"essay"}`)
	require.Equal(t, http.StatusOK, out.Status)
	resp := out.Body.(SuccessResponse)
	assert.Equal(t, 6000, resp.Usage.TotalTokens)
	assert.Greater(t, resp.Usage.EstimatedCost, 0.05)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Data["event"] == "high_cost" {
			warned = true
			assert.Equal(t, logrus.WarnLevel, e.Level)
		}
	}
	assert.True(t, warned, "expected a high_cost warning")
}

func TestHealthExtrapolatesHourlyCost(t *testing.T) {
	gemini := &stubProvider{id: catalog.Gemini, fn: pong}
	f := newFixture(t, fixtureOpts{providers: []upstream.Provider{gemini}})

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.generate(`{"prompt":"ping","provider":"gemini"}`).Status)
	}

	h := f.svc.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.EqualValues(t, 3, h.HourlyStats.RequestCount)
	assert.EqualValues(t, 6, h.HourlyStats.TotalTokens)
	assert.InDelta(t, h.HourlyStats.TotalCost*24, h.Prediction.DailyCost, 1e-15)
	assert.InDelta(t, h.HourlyStats.TotalCost*24*30, h.Prediction.MonthlyCost, 1e-12)
	assert.Equal(t, []string{"gemini"}, h.Providers)
	assert.Equal(t, safeop.StateClosed, h.Circuits["gemini"])
	assert.NotEmpty(t, h.Version)
}

type failingTracker struct{}

func (failingTracker) Track(context.Context, cost.Entry) (float64, error) { return 0, nil }

func (failingTracker) GetUsageStats(context.Context, string, time.Duration) (models.UsageStats, error) {
	return models.UsageStats{}, errors.New("db down")
}

func TestHealthDegradedWhenStatsFail(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.svc.tracker = failingTracker{}

	h := f.svc.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		typ    string
		status int
	}{
		{"validation", &validation.Error{Fields: []validation.FieldError{{Field: "prompt", Code: validation.CodeRequired}}}, ErrorTypeValidation, 400},
		{"rate limit", fmt.Errorf("wrap: %w", ratelimit.ErrRateLimited), ErrorTypeRateLimit, 429},
		{"circuit", &safeop.Error{Key: "openai", Err: &safeop.CircuitOpenError{Key: "openai"}}, ErrorTypeCircuitOpen, 500},
		{"cost", &safeop.Error{Key: "openai", Err: fmt.Errorf("%w: spent", safeop.ErrCostLimit)}, ErrorTypeCostLimit, 500},
		{"timeout", &safeop.Error{Key: "openai", Err: safeop.ErrAttemptTimeout}, ErrorTypeTimeout, 500},
		{"unavailable", fmt.Errorf("%w: gemini", upstream.ErrProviderUnavailable), ErrorTypeUnavailable, 500},
		{"provider", &safeop.Error{Key: "openai", Err: upstream.NewStatusError(catalog.OpenAI, 502, nil, nil)}, ErrorTypeProvider, 500},
		{"canceled", &safeop.Error{Key: "openai", Err: context.Canceled}, ErrorTypeCanceled, 500},
		{"unknown", errors.New("boom"), ErrorTypeInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.typ, c.Type)
			assert.Equal(t, tt.status, c.Status)
			assert.NotEmpty(t, c.Message)
		})
	}
}

func TestCallerKey(t *testing.T) {
	assert.Equal(t, "10.1.2.3", callerKey("10.1.2.3:443"))
	assert.Equal(t, "::1", callerKey("[::1]:8080"))
	assert.Equal(t, "10.1.2.3", callerKey("10.1.2.3"))
	assert.Equal(t, anonymousCaller, callerKey(""))
}
