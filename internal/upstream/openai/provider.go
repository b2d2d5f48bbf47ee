package openai

import (
	"context"
	"net/http"
	"strings"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/upstream"
)

const chatCompletionsPath = "/v1/chat/completions"

// Provider calls the OpenAI chat completions API with a bearer key.
type Provider struct {
	cfg        catalog.ProviderConfig
	apiKey     string
	httpClient *http.Client
}

// NewProvider creates a Provider with a client bounded by cfg.Timeout.
func NewProvider(cfg catalog.ProviderConfig, apiKey string) *Provider {
	return NewProviderWithClient(cfg, apiKey, nil)
}

// NewProviderWithClient creates a Provider with an optional custom HTTP client.
func NewProviderWithClient(cfg catalog.ProviderConfig, apiKey string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Provider{
		cfg:        cfg,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

func (p *Provider) ID() catalog.ProviderID { return catalog.OpenAI }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends one user message and returns the first choice.
// A response without usage reports zero tokens.
func (p *Provider) Generate(ctx context.Context, call upstream.Call) (upstream.Result, error) {
	maxTokens, temperature := upstream.Resolve(p.cfg, call)
	payload := chatRequest{
		Model:       p.cfg.Model,
		Messages:    []message{{Role: "user", Content: call.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	var resp chatResponse
	if err := upstream.PostJSON(ctx, p.httpClient, catalog.OpenAI, p.cfg.BaseURL+chatCompletionsPath, header, payload, &resp); err != nil {
		return upstream.Result{}, err
	}

	result := upstream.Result{Model: resp.Model}
	if result.Model == "" {
		result.Model = p.cfg.Model
	}
	if len(resp.Choices) > 0 {
		result.Text = resp.Choices[0].Message.Content
	}
	if resp.Usage != nil {
		result.Usage = upstream.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if result.Usage.TotalTokens == 0 {
			result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
		}
	}
	return result, nil
}
