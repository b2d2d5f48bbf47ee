package upstream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// errorEnvelope covers the OpenAI, Anthropic and Google error bodies.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type errorObject struct {
	Message string `json:"message"`
	Details []struct {
		Type       string            `json:"@type"`
		Reason     string            `json:"reason"`
		Metadata   map[string]string `json:"metadata"`
		RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
	} `json:"details"`
}

// ParseRetryDelay extracts the wait an upstream asked for on a throttled or
// unavailable response. The Retry-After header wins, then Google's
// details[].retryDelay. Returns 0 when neither is present.
func ParseRetryDelay(header http.Header, body []byte) time.Duration {
	if retryAfter := strings.TrimSpace(header.Get("Retry-After")); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if d := t.Sub(nowFunc()); d > 0 {
				return d
			}
			return 0
		}
	}

	obj, ok := decodeErrorObject(body)
	if !ok {
		return 0
	}
	for _, detail := range obj.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}
	return 0
}

func jsonErrorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if obj, ok := decodeErrorObject(body); ok {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}

func decodeErrorObject(body []byte) (errorObject, bool) {
	var env errorEnvelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		return errorObject{}, false
	}
	var obj errorObject
	if err := json.Unmarshal(env.Error, &obj); err != nil {
		return errorObject{}, false
	}
	return obj, true
}
