package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
)

const (
	DefaultMaxBodyBytes   = 1 << 20
	DefaultMaxPromptChars = 100_000
)

// GenerationRequest is a validated request with every default filled in.
type GenerationRequest struct {
	Prompt      string             `json:"prompt"`
	Provider    catalog.ProviderID `json:"provider"`
	MaxTokens   int                `json:"maxTokens"`
	Temperature float64            `json:"temperature"`
	CallerID    string             `json:"userId,omitempty"`
}

// rawRequest is the wire shape. Optional numbers are pointers so an explicit
// zero can be told apart from an absent field.
type rawRequest struct {
	Prompt      string   `json:"prompt" validate:"required,nonblank"`
	Provider    string   `json:"provider" validate:"omitempty,provider"`
	MaxTokens   *int     `json:"maxTokens" validate:"omitempty,gt=0"`
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	UserID      string   `json:"userId" validate:"max=256"`
	CallerID    string   `json:"callerId" validate:"max=256"`
}

// Options tunes defaults and ceilings. Zero values select the package defaults.
type Options struct {
	DefaultProvider    catalog.ProviderID
	DefaultTemperature *float64
	MaxBodyBytes       int64
	MaxPromptChars     int
}

// Validator turns untrusted request bodies into GenerationRequests. It has no
// side effects and is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	catalog  *catalog.Catalog
	opts     Options
	temp     float64
}

func New(cat *catalog.Catalog, opts Options) (*Validator, error) {
	if cat == nil {
		return nil, errors.New("validation: catalog is required")
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = catalog.Anthropic
	}
	if _, ok := cat.Get(opts.DefaultProvider); !ok {
		return nil, fmt.Errorf("validation: default provider %q is not configured", opts.DefaultProvider)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = DefaultMaxPromptChars
	}
	temp := 0.7
	if opts.DefaultTemperature != nil {
		temp = *opts.DefaultTemperature
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := registerCustomValidators(v, cat); err != nil {
		return nil, fmt.Errorf("failed to register custom validators: %w", err)
	}

	return &Validator{validate: v, catalog: cat, opts: opts, temp: temp}, nil
}

// MaxBodyBytes is the body ceiling Parse enforces.
func (v *Validator) MaxBodyBytes() int64 { return v.opts.MaxBodyBytes }

// Parse decodes and validates a JSON request body. On failure the returned
// request carries whatever provider could be resolved, for error reporting,
// and err is a *Error.
func (v *Validator) Parse(body []byte) (GenerationRequest, error) {
	if int64(len(body)) > v.opts.MaxBodyBytes {
		return GenerationRequest{Provider: v.opts.DefaultProvider}, &Error{Provider: string(v.opts.DefaultProvider), Fields: []FieldError{{
			Field:   "body",
			Code:    CodePayloadTooLarge,
			Message: fmt.Sprintf("request body exceeds %d bytes", v.opts.MaxBodyBytes),
		}}}
	}

	var raw rawRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return GenerationRequest{Provider: v.opts.DefaultProvider}, &Error{Provider: string(v.opts.DefaultProvider), Fields: []FieldError{decodeFieldError(err)}}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return GenerationRequest{Provider: v.opts.DefaultProvider}, &Error{Provider: string(v.opts.DefaultProvider), Fields: []FieldError{{
			Field: "body", Code: CodeMalformed, Message: "unexpected data after JSON object",
		}}}
	}
	return v.check(raw)
}

// Normalize re-validates an already built request. Normalize(Normalize(r)) == Normalize(r).
func (v *Validator) Normalize(req GenerationRequest) (GenerationRequest, error) {
	raw := rawRequest{
		Prompt:   req.Prompt,
		Provider: string(req.Provider),
		UserID:   req.CallerID,
	}
	if req.MaxTokens != 0 {
		n := req.MaxTokens
		raw.MaxTokens = &n
	}
	t := req.Temperature
	raw.Temperature = &t
	return v.check(raw)
}

func (v *Validator) check(raw rawRequest) (GenerationRequest, error) {
	out := GenerationRequest{
		Prompt:      raw.Prompt,
		Provider:    v.opts.DefaultProvider,
		Temperature: v.temp,
		CallerID:    strings.TrimSpace(raw.UserID),
	}
	if out.CallerID == "" {
		out.CallerID = strings.TrimSpace(raw.CallerID)
	}
	if id, ok := catalog.ParseProviderID(raw.Provider); ok {
		if _, configured := v.catalog.Get(id); configured {
			out.Provider = id
		}
	}

	var fields []FieldError
	if err := v.validate.Struct(raw); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return out, err
		}
		for _, fe := range ves {
			fields = append(fields, describe(fe))
		}
	}

	if utf8.RuneCountInString(raw.Prompt) > v.opts.MaxPromptChars {
		fields = append(fields, FieldError{
			Field:   "prompt",
			Code:    CodeTooLong,
			Message: fmt.Sprintf("must be at most %d characters", v.opts.MaxPromptChars),
		})
	}

	cfg, _ := v.catalog.Get(out.Provider)
	out.MaxTokens = cfg.DefaultMaxTokens
	if raw.MaxTokens != nil {
		out.MaxTokens = *raw.MaxTokens
		if *raw.MaxTokens > cfg.MaxTokens {
			fields = append(fields, FieldError{
				Field:   "maxTokens",
				Code:    CodeOutOfRange,
				Message: fmt.Sprintf("must be at most %d for %s", cfg.MaxTokens, out.Provider),
			})
		}
	}
	if raw.Temperature != nil {
		out.Temperature = *raw.Temperature
	}

	if len(fields) > 0 {
		provider := string(out.Provider)
		if p := strings.TrimSpace(raw.Provider); p != "" {
			provider = p
		}
		return out, &Error{Provider: provider, Fields: fields}
	}
	return out, nil
}

func registerCustomValidators(v *validator.Validate, cat *catalog.Catalog) error {
	if err := v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return err
	}
	return v.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		id, ok := catalog.ParseProviderID(fl.Field().String())
		if !ok {
			return false
		}
		_, configured := cat.Get(id)
		return configured
	})
}

func decodeFieldError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return FieldError{
			Field:   typeErr.Field,
			Code:    CodeInvalidType,
			Message: fmt.Sprintf("must be a %s", jsonKind(typeErr.Type)),
		}
	}
	return FieldError{Field: "body", Code: CodeMalformed, Message: "request body must be a JSON object"}
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "integer"
	case reflect.Float64, reflect.Float32:
		return "number"
	default:
		return t.Kind().String()
	}
}
