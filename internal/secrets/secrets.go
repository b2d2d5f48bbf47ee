// Package secrets resolves provider credentials by name from the process
// environment or from AWS Systems Manager Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const (
	SourceEnv = "env"
	SourceSSM = "ssm"
)

// ErrNotFound reports that a secret is not configured. Callers treat the
// owning provider as unavailable rather than failing startup.
var ErrNotFound = errors.New("secret not found")

// Provider looks up secret values by name.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}
	v, ok := p.lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return strings.TrimSpace(v), nil
}

// New selects a secrets backend. For ssm, prefix is prepended to every name
// (e.g. "/router/prod/") and region falls back to the default AWS chain.
func New(ctx context.Context, source, region, prefix string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", SourceEnv:
		return NewEnvProvider(), nil
	case SourceSSM:
		var opts []func(*awsconfig.LoadOptions) error
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		return NewParameterStore(cfg, prefix), nil
	default:
		return nil, fmt.Errorf("unsupported secrets source %q", source)
	}
}
