package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field error codes.
const (
	CodeRequired        = "required"
	CodeInvalidType     = "invalid_type"
	CodeMalformed       = "malformed"
	CodeOutOfRange      = "out_of_range"
	CodeTooLong         = "too_long"
	CodeUnknownProvider = "unknown_provider"
	CodePayloadTooLarge = "payload_too_large"
)

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is returned for any request that fails validation.
// Provider echoes what the caller asked for, which may not be a known provider.
type Error struct {
	Provider string
	Fields   []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func describe(fe validator.FieldError) FieldError {
	out := FieldError{Field: fe.Field()}
	switch fe.Tag() {
	case "required", "nonblank":
		out.Code, out.Message = CodeRequired, "is required and must not be blank"
	case "provider":
		out.Code, out.Message = CodeUnknownProvider, "must be one of openai, anthropic, gemini"
	case "gt":
		out.Code, out.Message = CodeOutOfRange, fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte", "lte":
		out.Code, out.Message = CodeOutOfRange, "must be between 0 and 2"
	case "max":
		out.Code, out.Message = CodeTooLong, fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		out.Code, out.Message = fe.Tag(), fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return out
}
