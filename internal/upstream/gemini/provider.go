package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/upstream"
)

// Scopes requested when authenticating with Application Default Credentials.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

// Provider calls the Gemini generateContent API, authenticated either with an
// API key or with an OAuth2 token source.
type Provider struct {
	cfg        catalog.ProviderConfig
	apiKey     string
	httpClient *http.Client
	estimator  upstream.TokenEstimator
}

// NewProvider creates an API key authenticated Provider.
func NewProvider(cfg catalog.ProviderConfig, apiKey string) *Provider {
	return NewProviderWithClient(cfg, apiKey, nil)
}

// NewProviderWithClient creates an API key authenticated Provider with an optional custom HTTP client.
func NewProviderWithClient(cfg catalog.ProviderConfig, apiKey string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Provider{
		cfg:        cfg,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		estimator:  upstream.DefaultEstimator,
	}
}

// NewProviderWithTokenSource creates a Provider that sends OAuth2 bearer tokens
// from ts. base may be nil.
func NewProviderWithTokenSource(cfg catalog.ProviderConfig, ts oauth2.TokenSource, base http.RoundTripper) *Provider {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, ts),
			Base:   base,
		},
	}
	return NewProviderWithClient(cfg, "", client)
}

// NewProviderFromADC resolves Application Default Credentials for Scopes.
func NewProviderFromADC(ctx context.Context, cfg catalog.ProviderConfig) (*Provider, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	return NewProviderWithTokenSource(cfg, creds.TokenSource, nil), nil
}

// WithEstimator replaces the heuristic used when the upstream omits usage.
func (p *Provider) WithEstimator(est upstream.TokenEstimator) *Provider {
	if est != nil {
		p.estimator = est
	}
	return p
}

func (p *Provider) ID() catalog.ProviderID { return catalog.Gemini }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Generate returns the text of the first candidate. When usageMetadata is
// missing the usage is estimated from prompt and reply length.
func (p *Provider) Generate(ctx context.Context, call upstream.Call) (upstream.Result, error) {
	maxTokens, temperature := upstream.Resolve(p.cfg, call)
	payload := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: call.Prompt}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: maxTokens, Temperature: temperature},
	}

	header := http.Header{}
	if p.apiKey != "" {
		header.Set("x-goog-api-key", p.apiKey)
	}

	target := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.cfg.BaseURL, url.PathEscape(p.cfg.Model))

	var resp generateResponse
	if err := upstream.PostJSON(ctx, p.httpClient, catalog.Gemini, target, header, payload, &resp); err != nil {
		return upstream.Result{}, err
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 {
		for _, pt := range resp.Candidates[0].Content.Parts {
			text.WriteString(pt.Text)
		}
	}

	result := upstream.Result{Text: text.String(), Model: resp.ModelVersion}
	if result.Model == "" {
		result.Model = p.cfg.Model
	}
	if m := resp.UsageMetadata; m != nil {
		result.Usage = upstream.Usage{
			PromptTokens:     m.PromptTokenCount,
			CompletionTokens: m.CandidatesTokenCount,
			TotalTokens:      m.TotalTokenCount,
		}
		if result.Usage.TotalTokens == 0 {
			result.Usage.TotalTokens = m.PromptTokenCount + m.CandidatesTokenCount
		}
	} else {
		result.Usage = upstream.EstimateUsage(p.estimator, call.Prompt, result.Text)
	}
	return result, nil
}
