package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ParameterStore struct {
	client ssmAPI
	prefix string
}

func NewParameterStore(cfg aws.Config, prefix string) *ParameterStore {
	return &ParameterStore{client: ssm.NewFromConfig(cfg), prefix: prefix}
}

func (ps *ParameterStore) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}
	full := ps.prefix + name

	input := &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	}

	result, err := ps.client.GetParameter(ctx, input)
	if err != nil {
		var missing *types.ParameterNotFound
		if errors.As(err, &missing) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, full)
		}
		return "", fmt.Errorf("failed to read parameter %s: %w", full, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, full)
	}
	return *result.Parameter.Value, nil
}
