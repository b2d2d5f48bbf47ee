package anthropic

import (
	"context"
	"net/http"
	"strings"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/upstream"
)

const (
	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"
)

// Provider calls the Anthropic messages API.
type Provider struct {
	cfg        catalog.ProviderConfig
	apiKey     string
	httpClient *http.Client
}

func NewProvider(cfg catalog.ProviderConfig, apiKey string) *Provider {
	return NewProviderWithClient(cfg, apiKey, nil)
}

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

func (p *Provider) ID() catalog.ProviderID { return catalog.Anthropic }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate joins every text block of the reply with newlines; other block types are dropped.
func (p *Provider) Generate(ctx context.Context, call upstream.Call) (upstream.Result, error) {
	maxTokens, temperature := upstream.Resolve(p.cfg, call)
	payload := messagesRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []message{{Role: "user", Content: call.Prompt}},
	}

	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", apiVersion)

	var resp messagesResponse
	if err := upstream.PostJSON(ctx, p.httpClient, catalog.Anthropic, p.cfg.BaseURL+messagesPath, header, payload, &resp); err != nil {
		return upstream.Result{}, err
	}

	texts := make([]string, 0, len(resp.Content))
	for _, block := range resp.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}
	return upstream.Result{
		Text:  strings.Join(texts, "\n"),
		Model: model,
		Usage: upstream.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
