package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/namelens/ratelane/internal/core"
)

// ErrNoToken is returned when an authenticated request is submitted without a token.
var ErrNoToken = errors.New("expected token to be set for this request, but none was present")

// ErrClosed is returned when submitting to a closed Manager.
var ErrClosed = errors.New("manager is closed")

// APIError is a 4xx response other than 429, decoded from the response body.
type APIError struct {
	Status    int            `json:"status"`
	Method    string         `json:"method"`
	URL       string         `json:"url"`
	Code      int            `json:"code,omitempty"`
	OAuthCode string         `json:"oauth_code,omitempty"`
	Message   string         `json:"message"`
	Raw       map[string]any `json:"raw,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	label := strconv.Itoa(e.Code)
	if e.OAuthCode != "" {
		label = e.OAuthCode
	}
	return fmt.Sprintf("%s %s: %d %s (%s)", e.Method, e.URL, e.Status, e.Message, label)
}

// HTTPError is a 5xx response that persisted through every retry.
type HTTPError struct {
	Status     int    `json:"status"`
	StatusText string `json:"status_text"`
	Method     string `json:"method"`
	URL        string `json:"url"`
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, text)
}

// RateLimitError is returned instead of waiting when a reject policy matches.
type RateLimitError struct {
	core.RateLimitData
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ""
	}
	scope := "bucket"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("%s rate limit on %s %s (limit %v, resets in %s)", scope, e.Method, e.Route, e.Limit, e.TimeToReset)
}

// TransportError is a network failure that could not be retried away.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CancelledError reports that the caller's context ended the request.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	if e == nil || e.Err == nil {
		return "request cancelled"
	}
	return "request cancelled: " + e.Err.Error()
}

func (e *CancelledError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func cancelled(ctx context.Context) error {
	err := context.Cause(ctx)
	if err == nil {
		err = context.Canceled
	}
	return &CancelledError{Err: err}
}

func newAPIError(status int, method, url string, body []byte) *APIError {
	apiErr := &APIError{Status: status, Method: method, URL: url}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}
	apiErr.Raw = data

	if code, ok := data["code"].(float64); ok {
		apiErr.Code = int(code)
		message, _ := data["message"].(string)
		if nested, ok := data["errors"].(map[string]any); ok {
			if flattened := flattenErrors(nested, ""); len(flattened) > 0 {
				message = message + "\n" + strings.Join(flattened, "\n")
			}
		}
		apiErr.Message = message
		return apiErr
	}

	if code, ok := data["error"].(string); ok {
		apiErr.OAuthCode = code
		apiErr.Message, _ = data["error_description"].(string)
		if apiErr.Message == "" {
			apiErr.Message = code
		}
		return apiErr
	}

	apiErr.Message = http.StatusText(status)
	return apiErr
}

// flattenErrors renders nested field errors as "path[CODE]: message" lines.
func flattenErrors(value map[string]any, key string) []string {
	if code, ok := value["code"].(string); ok {
		if message, ok := value["message"].(string); ok {
			if key == "" {
				return []string{strings.TrimSpace(code + ": " + message)}
			}
			return []string{strings.TrimSpace(key + "[" + code + "]: " + message)}
		}
	}

	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0)
	for _, k := range keys {
		next := nextErrorKey(key, k)
		switch v := value[k].(type) {
		case string:
			lines = append(lines, v)
		case []any:
			for _, item := range v {
				if nested, ok := item.(map[string]any); ok {
					lines = append(lines, flattenErrors(nested, next)...)
				}
			}
		case map[string]any:
			if group, ok := v["_errors"].([]any); ok {
				for _, item := range group {
					if nested, ok := item.(map[string]any); ok {
						lines = append(lines, flattenErrors(nested, next)...)
					}
				}
				continue
			}
			lines = append(lines, flattenErrors(v, next)...)
		}
	}
	return lines
}

func nextErrorKey(parent, key string) string {
	if strings.HasPrefix(key, "_") {
		return parent
	}
	if parent == "" {
		return key
	}
	if _, err := strconv.Atoi(key); err == nil {
		return parent + "[" + key + "]"
	}
	return parent + "." + key
}
