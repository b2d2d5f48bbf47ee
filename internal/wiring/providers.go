// Package wiring assembles runtime components from configuration: provider
// adapters with their credentials, and the usage store.
package wiring

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/secrets"
	"github.com/pysugar/universal-ai-router/internal/upstream"
	"github.com/pysugar/universal-ai-router/internal/upstream/anthropic"
	"github.com/pysugar/universal-ai-router/internal/upstream/gemini"
	"github.com/pysugar/universal-ai-router/internal/upstream/openai"
)

// swapped in tests
var geminiFromADC = func(ctx context.Context, cfg catalog.ProviderConfig, est upstream.TokenEstimator) (upstream.Provider, error) {
	p, err := gemini.NewProviderFromADC(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p.WithEstimator(est), nil
}

// Skipped is a catalog provider that could not be built.
type Skipped struct {
	Provider catalog.ProviderID
	Reason   error
}

// BuildProviders constructs an adapter for every catalog entry whose
// credential resolves. Providers without credentials are returned as skipped.
// est is used by adapters whose upstream may omit token counts; nil means the default.
func BuildProviders(ctx context.Context, cat *catalog.Catalog, sec secrets.Provider, est upstream.TokenEstimator) ([]upstream.Provider, []Skipped) {
	var built []upstream.Provider
	var skipped []Skipped
	for _, id := range cat.IDs() {
		cfg, _ := cat.Get(id)
		p, err := buildProvider(ctx, cfg, sec, est)
		if err != nil {
			skipped = append(skipped, Skipped{Provider: id, Reason: err})
			continue
		}
		built = append(built, p)
	}
	return built, skipped
}

// BuildRegistry is BuildProviders plus logging of what was skipped.
func BuildRegistry(ctx context.Context, cat *catalog.Catalog, sec secrets.Provider, est upstream.TokenEstimator, logger logrus.FieldLogger) *upstream.Registry {
	built, skipped := BuildProviders(ctx, cat, sec, est)
	for _, s := range skipped {
		logger.WithFields(logrus.Fields{
			"event":    "provider_skipped",
			"provider": s.Provider,
		}).WithError(s.Reason).Warn("Provider disabled")
	}
	reg := upstream.NewRegistry(built...)
	if len(reg.IDs()) == 0 {
		logger.WithField("event", "no_providers").Error("No provider credentials resolved; every generate call will fail")
	} else {
		logger.WithFields(logrus.Fields{
			"event":     "providers_ready",
			"providers": reg.IDs(),
		}).Info("Providers configured")
	}
	return reg
}

func buildProvider(ctx context.Context, cfg catalog.ProviderConfig, sec secrets.Provider, est upstream.TokenEstimator) (upstream.Provider, error) {
	if cfg.AuthMode == catalog.AuthModeADC {
		p, err := geminiFromADC(ctx, cfg, est)
		if err != nil {
			return nil, fmt.Errorf("application default credentials: %w", err)
		}
		return p, nil
	}

	key, err := sec.GetSecret(ctx, cfg.APIKeySecret)
	if err != nil {
		return nil, err
	}
	switch cfg.ID {
	case catalog.OpenAI:
		return openai.NewProvider(cfg, key), nil
	case catalog.Anthropic:
		return anthropic.NewProvider(cfg, key), nil
	case catalog.Gemini:
		return gemini.NewProvider(cfg, key).WithEstimator(est), nil
	default:
		return nil, fmt.Errorf("no adapter for provider %q", cfg.ID)
	}
}
