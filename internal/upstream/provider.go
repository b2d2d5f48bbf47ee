package upstream

import (
	"context"
	"fmt"
	"sort"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
)

// DefaultTemperature applies when a call leaves temperature unset.
const DefaultTemperature = 0.7

// Call is one generation request as seen by an adapter.
type Call struct {
	Prompt    string
	MaxTokens int // zero selects the provider default
	// Temperature is nil when the caller did not choose one; zero is a valid choice.
	Temperature *float64
}

// Usage reports token counts for one generation. Estimated is set when the
// upstream did not report counts and they were derived from text length.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// Result is the normalized output of one successful generation.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// Provider is implemented by every upstream adapter.
type Provider interface {
	ID() catalog.ProviderID
	Generate(ctx context.Context, call Call) (Result, error)
}

// Resolve fills call defaults from the provider configuration.
func Resolve(cfg catalog.ProviderConfig, call Call) (maxTokens int, temperature float64) {
	maxTokens = call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.DefaultMaxTokens
	}
	temperature = DefaultTemperature
	if call.Temperature != nil {
		temperature = *call.Temperature
	}
	return maxTokens, temperature
}

// Registry maps provider ids to configured adapters.
type Registry struct {
	providers map[catalog.ProviderID]Provider
}

// NewRegistry indexes providers by their ID. Later duplicates win.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[catalog.ProviderID]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.ID()] = p
		}
	}
	return r
}

// Get returns the adapter for id or ErrProviderUnavailable.
func (r *Registry) Get(id catalog.ProviderID) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[id]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, id)
}

// IDs lists registered providers in a stable order.
func (r *Registry) IDs() []catalog.ProviderID {
	if r == nil {
		return nil
	}
	ids := make([]catalog.ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
