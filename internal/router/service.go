// Package router orchestrates a generate call: validate, admit, execute
// against the selected provider, price the usage and render the response.
package router

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pysugar/universal-ai-router/internal/cost"
	"github.com/pysugar/universal-ai-router/internal/db/models"
	"github.com/pysugar/universal-ai-router/internal/logging"
	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/ratelimit"
	"github.com/pysugar/universal-ai-router/internal/safeop"
	"github.com/pysugar/universal-ai-router/internal/upstream"
	"github.com/pysugar/universal-ai-router/internal/util"
	"github.com/pysugar/universal-ai-router/internal/validation"
	"github.com/pysugar/universal-ai-router/internal/version"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"

	anonymousCaller = "anonymous"
)

// Limiter admits or denies a call for a (provider, caller) pair without blocking.
type Limiter interface {
	Check(provider catalog.ProviderID, caller string) ratelimit.Decision
}

// UsageTracker prices and records usage and answers window aggregates.
type UsageTracker interface {
	Track(ctx context.Context, e cost.Entry) (float64, error)
	GetUsageStats(ctx context.Context, callerID string, window time.Duration) (models.UsageStats, error)
}

type Deps struct {
	Catalog   *catalog.Catalog
	Validator *validation.Validator
	Limiter   Limiter
	Executor  *safeop.Executor
	Registry  *upstream.Registry
	Tracker   UsageTracker
	// Policy is the per-call template; AttemptCost and Events are filled per request.
	Policy            safeop.Policy
	HighCostThreshold float64
	Estimator         upstream.TokenEstimator
	Logger            logrus.FieldLogger
	Now               func() time.Time
}

type Service struct {
	catalog   *catalog.Catalog
	validator *validation.Validator
	limiter   Limiter
	executor  *safeop.Executor
	registry  *upstream.Registry
	tracker   UsageTracker
	policy    safeop.Policy
	highCost  float64
	estimator upstream.TokenEstimator
	logger    logrus.FieldLogger
	now       func() time.Time
	started   time.Time
}

func New(d Deps) (*Service, error) {
	switch {
	case d.Catalog == nil:
		return nil, errors.New("router: catalog is required")
	case d.Validator == nil:
		return nil, errors.New("router: validator is required")
	case d.Limiter == nil:
		return nil, errors.New("router: limiter is required")
	case d.Executor == nil:
		return nil, errors.New("router: executor is required")
	case d.Registry == nil:
		return nil, errors.New("router: registry is required")
	case d.Tracker == nil:
		return nil, errors.New("router: usage tracker is required")
	}
	s := &Service{
		catalog:   d.Catalog,
		validator: d.Validator,
		limiter:   d.Limiter,
		executor:  d.Executor,
		registry:  d.Registry,
		tracker:   d.Tracker,
		policy:    d.Policy,
		highCost:  d.HighCostThreshold,
		estimator: d.Estimator,
		logger:    d.Logger,
		now:       d.Now,
	}
	if s.estimator == nil {
		s.estimator = upstream.DefaultEstimator
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()
	return s, nil
}

// Generate handles one call end to end. It never returns an error: every
// failure is rendered as a FailureResponse.
func (s *Service) Generate(ctx context.Context, in Inbound) Outcome {
	start := s.now()
	requestID := in.RequestID
	if requestID == "" {
		requestID = logging.GenerateRequestID()
	}
	ctx = logging.WithRequestID(ctx, requestID)
	log := s.logger.WithField("request_id", requestID)

	req, err := s.validator.Parse(in.Body)
	if err != nil {
		provider := ""
		var verr *validation.Error
		if errors.As(err, &verr) {
			provider = verr.Provider
		}
		log.WithField("event", "validation_failed").WithError(err).Info("Request rejected")
		log.WithField("body", util.TruncateBytes(in.Body)).Debug("Rejected request body")
		return s.fail(start, requestID, provider, 0, err, ratelimit.Unlimited)
	}

	caller := req.CallerID
	if caller == "" {
		caller = callerKey(in.RemoteAddr)
	}
	log = log.WithFields(logrus.Fields{"provider": req.Provider, "caller": caller})

	decision := s.limiter.Check(req.Provider, caller)
	if !decision.Allowed {
		log.WithFields(logrus.Fields{
			"event":          "rate_limited",
			"retry_after_ms": decision.RetryAfter.Milliseconds(),
		}).Warn("Rate limit exceeded")
		out := s.fail(start, requestID, string(req.Provider), 0, ratelimit.ErrRateLimited, 0)
		out.RetryAfter = decision.RetryAfter
		return out
	}

	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		log.WithField("event", "provider_unavailable").WithError(err).Error("No adapter for provider")
		return s.fail(start, requestID, string(req.Provider), 0, err, decision.Remaining)
	}
	cfg, _ := s.catalog.Get(req.Provider)

	policy := s.policy
	policy.AttemptCost = s.attemptCost(cfg, req)
	policy.Events = safeop.LogSink{Logger: log}

	temperature := req.Temperature
	call := upstream.Call{Prompt: req.Prompt, MaxTokens: req.MaxTokens, Temperature: &temperature}

	log.WithFields(logrus.Fields{
		"event":      "dispatch",
		"max_tokens": req.MaxTokens,
	}).Debug("Dispatching to provider")

	res, report, err := safeop.Execute(ctx, s.executor, string(req.Provider), policy,
		func(ctx context.Context) (upstream.Result, error) {
			return adapter.Generate(ctx, call)
		})
	if err != nil {
		c := Classify(err)
		log.WithFields(logrus.Fields{
			"event":      "generation_failed",
			"error_type": c.Type,
			"attempts":   report.Attempts,
		}).WithError(err).Error("Generation failed")
		return s.fail(start, requestID, string(req.Provider), report.Retries(), err, decision.Remaining)
	}

	usage := res.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	model := res.Model
	if model == "" {
		model = cfg.Model
	}

	var spent float64
	if usage.TotalTokens == 0 && !usage.Estimated {
		// no tokens reported and none estimated
		log.WithField("event", "usage_missing").Warn("Provider reported no usage, not recorded")
	} else {
		spent, err = s.tracker.Track(ctx, cost.Entry{
			Provider:  req.Provider,
			Model:     model,
			Usage:     usage,
			CallerID:  req.CallerID,
			RequestID: requestID,
		})
		if err != nil {
			log.WithField("event", "usage_unpriced").WithError(err).Warn("Usage not priced")
		}
	}
	if s.highCost > 0 && spent > s.highCost {
		log.WithFields(logrus.Fields{
			"event":     "high_cost",
			"cost":      spent,
			"threshold": s.highCost,
		}).Warn("High cost request")
	}

	elapsed := s.now().Sub(start)
	log.WithFields(logrus.Fields{
		"event":         "completed",
		"retries":       report.Retries(),
		"total_tokens":  usage.TotalTokens,
		"cost":          spent,
		"processing_ms": elapsed.Milliseconds(),
	}).Info("Generation completed")

	return Outcome{
		Status:    http.StatusOK,
		RequestID: requestID,
		Remaining: decision.Remaining,
		Body: SuccessResponse{
			Success:  true,
			Provider: string(req.Provider),
			Model:    model,
			Result:   res.Text,
			Usage: UsageSummary{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
				EstimatedCost:    spent,
				Estimated:        usage.Estimated,
			},
			Metadata: Metadata{
				RequestID:      requestID,
				ProcessingTime: elapsed.Milliseconds(),
				Retries:        report.Retries(),
			},
		},
	}
}

// Health extrapolates the trailing hour of usage to daily and monthly cost.
func (s *Service) Health(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		Status:   statusHealthy,
		Uptime:   s.now().Sub(s.started).Seconds(),
		Version:  version.String(),
		Circuits: make(map[string]safeop.State),
	}
	for _, id := range s.registry.IDs() {
		resp.Providers = append(resp.Providers, string(id))
		resp.Circuits[string(id)] = safeop.StateClosed
	}
	for key, state := range s.executor.States() {
		resp.Circuits[key] = state
	}

	stats, err := s.tracker.GetUsageStats(ctx, "", cost.Hour)
	if err != nil {
		s.logger.WithField("event", "usage_stats_failed").WithError(err).Error("Failed to aggregate usage")
		resp.Status = statusDegraded
		return resp
	}
	resp.HourlyStats = stats
	resp.Prediction = Prediction{
		DailyCost:   stats.TotalCost * 24,
		MonthlyCost: stats.TotalCost * 24 * 30,
	}
	return resp
}

// attemptCost is the worst-case price of one attempt: the estimated prompt
// plus a full completion budget.
func (s *Service) attemptCost(cfg catalog.ProviderConfig, req validation.GenerationRequest) float64 {
	return cfg.Cost(s.estimator.Estimate(req.Prompt), req.MaxTokens)
}

func (s *Service) fail(start time.Time, requestID, provider string, retries int, err error, remaining int) Outcome {
	c := Classify(err)
	body := FailureResponse{
		Success:   false,
		Provider:  provider,
		Error:     c.Message,
		ErrorType: c.Type,
		Metadata: Metadata{
			RequestID:      requestID,
			ProcessingTime: s.now().Sub(start).Milliseconds(),
			Retries:        retries,
		},
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		body.Details = verr.Fields
	}
	return Outcome{Status: c.Status, Body: body, RequestID: requestID, Remaining: remaining}
}

// callerKey falls back to the client address when no caller id is supplied.
func callerKey(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return anonymousCaller
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
