package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
)

func newValidator(t *testing.T, opts Options) *Validator {
	t.Helper()
	v, err := New(catalog.Default(), opts)
	require.NoError(t, err)
	return v
}

func fieldCodes(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *Error
	require.True(t, errors.As(err, &verr), "expected *validation.Error, got %v", err)
	out := make(map[string]string, len(verr.Fields))
	for _, f := range verr.Fields {
		out[f.Field] = f.Code
	}
	return out
}

func TestParseAppliesDefaults(t *testing.T) {
	v := newValidator(t, Options{})

	req, err := v.Parse([]byte(`{"prompt":"hello"}`))
	require.NoError(t, err)

	assert.Equal(t, "hello", req.Prompt)
	assert.Equal(t, catalog.Anthropic, req.Provider)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Empty(t, req.CallerID)
}

func TestParseHonoursExplicitValues(t *testing.T) {
	v := newValidator(t, Options{})

	req, err := v.Parse([]byte(`{"prompt":"ping","provider":"Gemini","maxTokens":8192,"temperature":0,"userId":" u-1 "}`))
	require.NoError(t, err)

	assert.Equal(t, catalog.Gemini, req.Provider)
	assert.Equal(t, 8192, req.MaxTokens)
	assert.Zero(t, req.Temperature, "explicit zero temperature must survive")
	assert.Equal(t, "u-1", req.CallerID)
}

func TestParseCallerIDAlias(t *testing.T) {
	v := newValidator(t, Options{})

	req, err := v.Parse([]byte(`{"prompt":"x","callerId":"svc-a"}`))
	require.NoError(t, err)
	assert.Equal(t, "svc-a", req.CallerID)
}

func TestParseRejections(t *testing.T) {
	v := newValidator(t, Options{MaxPromptChars: 10})

	tests := []struct {
		name  string
		body  string
		field string
		code  string
	}{
		{"missing prompt", `{}`, "prompt", CodeRequired},
		{"empty prompt", `{"prompt":""}`, "prompt", CodeRequired},
		{"blank prompt", `{"prompt":"  \n\t"}`, "prompt", CodeRequired},
		{"prompt too long", `{"prompt":"01234567890"}`, "prompt", CodeTooLong},
		{"unknown provider", `{"prompt":"x","provider":"cohere"}`, "provider", CodeUnknownProvider},
		{"zero max tokens", `{"prompt":"x","maxTokens":0}`, "maxTokens", CodeOutOfRange},
		{"negative max tokens", `{"prompt":"x","maxTokens":-5}`, "maxTokens", CodeOutOfRange},
		{"above ceiling", `{"prompt":"x","provider":"openai","maxTokens":4097}`, "maxTokens", CodeOutOfRange},
		{"temperature low", `{"prompt":"x","temperature":-0.1}`, "temperature", CodeOutOfRange},
		{"temperature high", `{"prompt":"x","temperature":2.5}`, "temperature", CodeOutOfRange},
		{"caller too long", `{"prompt":"x","userId":"` + strings.Repeat("u", 257) + `"}`, "userId", CodeTooLong},
		{"wrong type", `{"prompt":42}`, "prompt", CodeInvalidType},
		{"fractional tokens", `{"prompt":"x","maxTokens":1.5}`, "maxTokens", CodeInvalidType},
		{"not json", `prompt=hi`, "body", CodeMalformed},
		{"trailing data", `{"prompt":"x"} {}`, "body", CodeMalformed},
		{"trailing brace", `{"prompt":"x"}}`, "body", CodeMalformed},
		{"trailing bracket", `{"prompt":"x"}]`, "body", CodeMalformed},
		{"trailing scalar", `{"prompt":"x"} 1`, "body", CodeMalformed},
		{"empty body", ``, "body", CodeMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.body))
			require.Error(t, err)
			codes := fieldCodes(t, err)
			assert.Equal(t, tt.code, codes[tt.field], "fields: %v", codes)
		})
	}
}

func TestParseAllowsTrailingWhitespace(t *testing.T) {
	v := newValidator(t, Options{})

	req, err := v.Parse([]byte("{\"prompt\":\"x\"}\r\n\t "))
	require.NoError(t, err)
	assert.Equal(t, "x", req.Prompt)
}

func TestParseReportsEveryInvalidField(t *testing.T) {
	v := newValidator(t, Options{})

	_, err := v.Parse([]byte(`{"prompt":"","provider":"cohere","temperature":3}`))
	codes := fieldCodes(t, err)
	assert.Len(t, codes, 3)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cohere", verr.Provider)
	assert.Contains(t, err.Error(), "invalid request: ")
}

func TestParseBodyCeiling(t *testing.T) {
	v := newValidator(t, Options{MaxBodyBytes: 32})

	_, err := v.Parse([]byte(`{"prompt":"` + strings.Repeat("a", 64) + `"}`))
	codes := fieldCodes(t, err)
	assert.Equal(t, CodePayloadTooLarge, codes["body"])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	v := newValidator(t, Options{})

	bodies := []string{
		`{"prompt":"hello"}`,
		`{"prompt":"ping","provider":"gemini","temperature":0}`,
		`{"prompt":"x","provider":"openai","maxTokens":12,"temperature":1.3,"userId":"abc"}`,
	}
	for _, body := range bodies {
		first, err := v.Parse([]byte(body))
		require.NoError(t, err)

		second, err := v.Normalize(first)
		require.NoError(t, err)
		third, err := v.Normalize(second)
		require.NoError(t, err)

		assert.Equal(t, first, second, body)
		assert.Equal(t, second, third, body)
	}
}

func TestNewRejectsUnconfiguredDefault(t *testing.T) {
	cfg, _ := catalog.Default().Get(catalog.OpenAI)
	cat, err := catalog.New(cfg)
	require.NoError(t, err)

	_, err = New(cat, Options{})
	assert.Error(t, err, "anthropic default must exist in the catalog")

	v, err := New(cat, Options{DefaultProvider: catalog.OpenAI})
	require.NoError(t, err)
	_, err = v.Parse([]byte(`{"prompt":"x","provider":"gemini"}`))
	assert.Equal(t, CodeUnknownProvider, fieldCodes(t, err)["provider"])
}
