package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values map[string]string
	err    error
	calls  []*ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("missing")}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func TestEnvProvider(t *testing.T) {
	p := &EnvProvider{lookup: func(name string) (string, bool) {
		switch name {
		case "OPENAI_API_KEY":
			return " sk-test \n", true
		case "BLANK":
			return "   ", true
		}
		return "", false
	}}
	ctx := context.Background()

	v, err := p.GetSecret(ctx, "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	_, err = p.GetSecret(ctx, "ANTHROPIC_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.GetSecret(ctx, "BLANK")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.GetSecret(ctx, "")
	assert.Error(t, err)
}

func TestParameterStore(t *testing.T) {
	fake := &fakeSSM{values: map[string]string{"/router/prod/GEMINI_API_KEY": "g-key"}}
	ps := &ParameterStore{client: fake, prefix: "/router/prod/"}
	ctx := context.Background()

	v, err := ps.GetSecret(ctx, "GEMINI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "g-key", v)
	require.Len(t, fake.calls, 1)
	assert.True(t, aws.ToBool(fake.calls[0].WithDecryption))

	_, err = ps.GetSecret(ctx, "OPENAI_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParameterStoreTransportError(t *testing.T) {
	ps := &ParameterStore{client: &fakeSSM{err: errors.New("throttled")}}

	_, err := ps.GetSecret(context.Background(), "OPENAI_API_KEY")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewSelectsBackend(t *testing.T) {
	p, err := New(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.IsType(t, &EnvProvider{}, p)

	_, err = New(context.Background(), "vault", "", "")
	assert.Error(t, err)
}
