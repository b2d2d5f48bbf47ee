package router

import (
	"time"

	"github.com/pysugar/universal-ai-router/internal/db/models"
	"github.com/pysugar/universal-ai-router/internal/safeop"
	"github.com/pysugar/universal-ai-router/internal/validation"
)

// Inbound is one generate call as received by the transport.
type Inbound struct {
	Body       []byte
	RemoteAddr string
	// RequestID is used when set, otherwise one is generated.
	RequestID string
}

// Outcome is a rendered response plus transport hints.
type Outcome struct {
	Status    int
	Body      any
	RequestID string
	// Remaining is the caller's quota after this call, or ratelimit.Unlimited when unknown.
	Remaining  int
	RetryAfter time.Duration
}

type Metadata struct {
	RequestID      string `json:"requestId"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
	Retries        int    `json:"retries"`
}

type UsageSummary struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
	Estimated        bool    `json:"estimated,omitempty"`
}

type SuccessResponse struct {
	Success  bool         `json:"success"`
	Provider string       `json:"provider"`
	Model    string       `json:"model,omitempty"`
	Result   string       `json:"result"`
	Usage    UsageSummary `json:"usage"`
	Metadata Metadata     `json:"metadata"`
}

type FailureResponse struct {
	Success   bool                    `json:"success"`
	Provider  string                  `json:"provider,omitempty"`
	Error     string                  `json:"error"`
	ErrorType string                  `json:"errorType"`
	Details   []validation.FieldError `json:"details,omitempty"`
	Metadata  Metadata                `json:"metadata"`
}

type Prediction struct {
	DailyCost   float64 `json:"dailyCost"`
	MonthlyCost float64 `json:"monthlyCost"`
}

type HealthResponse struct {
	Status      string                  `json:"status"`
	Uptime      float64                 `json:"uptime"` // seconds
	Version     string                  `json:"version"`
	HourlyStats models.UsageStats       `json:"hourlyStats"`
	Prediction  Prediction              `json:"prediction"`
	Providers   []string                `json:"providers"`
	Circuits    map[string]safeop.State `json:"circuits"`
}
