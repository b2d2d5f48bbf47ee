package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderID names one of the upstream generation services the router can dispatch to.
type ProviderID string

const (
	OpenAI    ProviderID = "openai"
	Anthropic ProviderID = "anthropic"
	Gemini    ProviderID = "gemini"
)

const (
	AuthModeAPIKey = "api_key"
	AuthModeADC    = "adc"

	defaultTimeout          = 60 * time.Second
	defaultRateLimitWindow  = time.Minute
	defaultDefaultMaxTokens = 1024
)

// Known lists every provider the router has an adapter for, in display order.
var Known = []ProviderID{OpenAI, Anthropic, Gemini}

// getenv is swapped in tests.
var getenv = os.Getenv

// ParseProviderID normalizes s and reports whether it names a known provider.
func ParseProviderID(s string) (ProviderID, bool) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Known {
		if id == known {
			return id, true
		}
	}
	return "", false
}

type fileConfig struct {
	Providers []fileProvider `yaml:"providers"`
}

type fileProvider struct {
	ID               string    `yaml:"id"`
	Model            string    `yaml:"model"`
	BaseURL          string    `yaml:"base_url"`
	AuthMode         string    `yaml:"auth_mode"`
	APIKeySecret     string    `yaml:"api_key_secret"`
	MaxTokens        int       `yaml:"max_tokens"`
	DefaultMaxTokens int       `yaml:"default_max_tokens"`
	Timeout          string    `yaml:"timeout"`
	RateLimit        *rateCfg  `yaml:"rate_limit"`
	Pricing          *priceCfg `yaml:"pricing"`
}

type rateCfg struct {
	Requests int    `yaml:"requests"`
	Window   string `yaml:"window"`
}

// priceCfg is expressed in USD per million tokens, the unit providers publish.
type priceCfg struct {
	InputPerMillion  *float64 `yaml:"input_per_million"`
	OutputPerMillion *float64 `yaml:"output_per_million"`
}

// RateLimit is the admission quota for one (provider, caller) pair.
type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// ProviderConfig is the resolved, immutable description of one provider.
type ProviderConfig struct {
	ID               ProviderID    `json:"id"`
	Model            string        `json:"model"`
	BaseURL          string        `json:"base_url"`
	AuthMode         string        `json:"auth_mode"`
	APIKeySecret     string        `json:"api_key_secret"`
	MaxTokens        int           `json:"max_tokens"`
	DefaultMaxTokens int           `json:"default_max_tokens"`
	Timeout          time.Duration `json:"timeout"`
	RateLimit        RateLimit     `json:"rate_limit"`
	// Per-token prices in USD.
	PricePerInputToken  float64 `json:"price_per_input_token"`
	PricePerOutputToken float64 `json:"price_per_output_token"`
}

// Cost prices a token count with this provider's rates.
func (p ProviderConfig) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*p.PricePerInputToken + float64(completionTokens)*p.PricePerOutputToken
}

// Catalog is a read-only set of provider configurations, safe for concurrent use.
type Catalog struct {
	providers map[ProviderID]ProviderConfig
}

// Default returns the built-in catalog with env overrides applied.
func Default() *Catalog {
	c, err := build(nil)
	if err != nil {
		// built-in entries are always valid
		panic(err)
	}
	return c
}

// Load reads a catalog file and merges its entries over the built-in defaults.
// An empty path yields the defaults.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog %q: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("provider catalog %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes catalog YAML and merges it over the built-in defaults.
func Parse(data []byte) (*Catalog, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog: %w", err)
	}
	return build(cfg.Providers)
}

// New builds a catalog from already resolved entries, mostly for tests.
func New(entries ...ProviderConfig) (*Catalog, error) {
	c := &Catalog{providers: make(map[ProviderID]ProviderConfig, len(entries))}
	for _, e := range entries {
		if err := validate(e); err != nil {
			return nil, err
		}
		c.providers[e.ID] = e
	}
	return c, nil
}

// Get returns the configuration for id.
func (c *Catalog) Get(id ProviderID) (ProviderConfig, bool) {
	p, ok := c.providers[id]
	return p, ok
}

// IDs lists configured providers in a stable order.
func (c *Catalog) IDs() []ProviderID {
	ids := make([]ProviderID, 0, len(c.providers))
	for id := range c.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func build(overrides []fileProvider) (*Catalog, error) {
	byID := make(map[ProviderID]ProviderConfig, len(Known))
	for _, p := range defaultProviders() {
		byID[p.ID] = p
	}

	for _, fp := range overrides {
		id, ok := ParseProviderID(fp.ID)
		if !ok {
			return nil, fmt.Errorf("unknown provider id %q", fp.ID)
		}
		merged, err := merge(byID[id], fp)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		byID[id] = merged
	}

	c := &Catalog{providers: make(map[ProviderID]ProviderConfig, len(byID))}
	for id, p := range byID {
		p = applyEnv(p)
		if err := validate(p); err != nil {
			return nil, err
		}
		c.providers[id] = p
	}
	return c, nil
}

func merge(base ProviderConfig, fp fileProvider) (ProviderConfig, error) {
	out := base
	if v := strings.TrimSpace(fp.Model); v != "" {
		out.Model = v
	}
	if v := strings.TrimSpace(fp.BaseURL); v != "" {
		out.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(strings.ToLower(fp.AuthMode)); v != "" {
		out.AuthMode = v
	}
	if v := strings.TrimSpace(fp.APIKeySecret); v != "" {
		out.APIKeySecret = v
	}
	if fp.MaxTokens != 0 {
		out.MaxTokens = fp.MaxTokens
	}
	if fp.DefaultMaxTokens != 0 {
		out.DefaultMaxTokens = fp.DefaultMaxTokens
	}
	if raw := strings.TrimSpace(fp.Timeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		out.Timeout = d
	}
	if fp.RateLimit != nil {
		out.RateLimit.Requests = fp.RateLimit.Requests
		if raw := strings.TrimSpace(fp.RateLimit.Window); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return ProviderConfig{}, fmt.Errorf("invalid rate limit window %q: %w", raw, err)
			}
			out.RateLimit.Window = d
		}
	}
	if fp.Pricing != nil {
		if fp.Pricing.InputPerMillion != nil {
			out.PricePerInputToken = *fp.Pricing.InputPerMillion / 1_000_000
		}
		if fp.Pricing.OutputPerMillion != nil {
			out.PricePerOutputToken = *fp.Pricing.OutputPerMillion / 1_000_000
		}
	}
	return out, nil
}

func applyEnv(p ProviderConfig) ProviderConfig {
	if v := strings.TrimSpace(getenv(providerEnvName(p.ID, "BASE_URL"))); v != "" {
		p.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(getenv(providerEnvName(p.ID, "MODEL"))); v != "" {
		p.Model = v
	}
	return p
}

var errInvalid = errors.New("invalid provider config")

func validate(p ProviderConfig) error {
	if _, ok := ParseProviderID(string(p.ID)); !ok {
		return fmt.Errorf("%w: unknown provider id %q", errInvalid, p.ID)
	}
	switch {
	case p.Model == "":
		return fmt.Errorf("%w: %s: model is required", errInvalid, p.ID)
	case p.MaxTokens <= 0:
		return fmt.Errorf("%w: %s: max_tokens must be positive", errInvalid, p.ID)
	case p.DefaultMaxTokens <= 0 || p.DefaultMaxTokens > p.MaxTokens:
		return fmt.Errorf("%w: %s: default_max_tokens must be in 1..%d", errInvalid, p.ID, p.MaxTokens)
	case p.RateLimit.Requests < 0:
		return fmt.Errorf("%w: %s: rate_limit.requests must not be negative", errInvalid, p.ID)
	case p.RateLimit.Requests > 0 && p.RateLimit.Window <= 0:
		return fmt.Errorf("%w: %s: rate_limit.window must be positive", errInvalid, p.ID)
	case p.PricePerInputToken < 0 || p.PricePerOutputToken < 0:
		return fmt.Errorf("%w: %s: prices must not be negative", errInvalid, p.ID)
	case p.AuthMode != AuthModeAPIKey && p.AuthMode != AuthModeADC:
		return fmt.Errorf("%w: %s: unsupported auth_mode %q", errInvalid, p.ID, p.AuthMode)
	case p.AuthMode == AuthModeADC && p.ID != Gemini:
		return fmt.Errorf("%w: %s: auth_mode adc is only available for gemini", errInvalid, p.ID)
	}
	return nil
}

func providerEnvName(id ProviderID, suffix string) string {
	return fmt.Sprintf("ROUTER_%s_%s", strings.ToUpper(string(id)), suffix)
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:                  OpenAI,
			Model:               "gpt-4o-mini",
			BaseURL:             "https://api.openai.com",
			AuthMode:            AuthModeAPIKey,
			APIKeySecret:        "OPENAI_API_KEY",
			MaxTokens:           4096,
			DefaultMaxTokens:    defaultDefaultMaxTokens,
			Timeout:             defaultTimeout,
			RateLimit:           RateLimit{Requests: 60, Window: defaultRateLimitWindow},
			PricePerInputToken:  0.15 / 1_000_000,
			PricePerOutputToken: 0.60 / 1_000_000,
		},
		{
			ID:                  Anthropic,
			Model:               "claude-3-5-sonnet-20241022",
			BaseURL:             "https://api.anthropic.com",
			AuthMode:            AuthModeAPIKey,
			APIKeySecret:        "ANTHROPIC_API_KEY",
			MaxTokens:           4096,
			DefaultMaxTokens:    defaultDefaultMaxTokens,
			Timeout:             defaultTimeout,
			RateLimit:           RateLimit{Requests: 50, Window: defaultRateLimitWindow},
			PricePerInputToken:  3.0 / 1_000_000,
			PricePerOutputToken: 15.0 / 1_000_000,
		},
		{
			ID:                  Gemini,
			Model:               "gemini-1.5-flash",
			BaseURL:             "https://generativelanguage.googleapis.com",
			AuthMode:            AuthModeAPIKey,
			APIKeySecret:        "GEMINI_API_KEY",
			MaxTokens:           8192,
			DefaultMaxTokens:    defaultDefaultMaxTokens,
			Timeout:             defaultTimeout,
			RateLimit:           RateLimit{Requests: 60, Window: defaultRateLimitWindow},
			PricePerInputToken:  0.075 / 1_000_000,
			PricePerOutputToken: 0.30 / 1_000_000,
		},
	}
}
