package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/namelens/ratelane/internal/core/engine"
)

// FromEngineError maps scheduler errors onto envelopes. It returns nil when
// err is not one of the scheduler's error types.
func FromEngineError(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var (
		apiErr       *engine.APIError
		httpErr      *engine.HTTPError
		rateErr      *engine.RateLimitError
		transportErr *engine.TransportError
		cancelErr    *engine.CancelledError
	)

	switch {
	case stderrors.As(err, &rateErr):
		envelope := wrap(ctx, CodeRateLimited, err, "request rejected by rate limit policy")
		return withContext(envelope, map[string]interface{}{
			"route":               rateErr.Route,
			"method":              rateErr.Method,
			"global":              rateErr.Global,
			"hash":                rateErr.Hash,
			"major_parameter":     rateErr.MajorParameter,
			"scope":               string(rateErr.Scope),
			"retry_after_seconds": rateErr.RetryAfter.Seconds(),
		})
	case stderrors.As(err, &apiErr):
		envelope := wrap(ctx, apiErrorCode(apiErr.Status), err, apiErr.Message)
		details := map[string]interface{}{
			"upstream_status": apiErr.Status,
			"method":          apiErr.Method,
			"url":             apiErr.URL,
		}
		if apiErr.Code != 0 {
			details["api_code"] = apiErr.Code
		}
		if apiErr.OAuthCode != "" {
			details["oauth_code"] = apiErr.OAuthCode
		}
		if len(apiErr.Raw) > 0 {
			details["upstream_body"] = apiErr.Raw
		}
		return withContext(envelope, details)
	case stderrors.As(err, &httpErr):
		envelope := wrap(ctx, CodeExternalService, err, fmt.Sprintf("upstream returned %d", httpErr.Status))
		return withContext(envelope, map[string]interface{}{
			"upstream_status": httpErr.Status,
			"method":          httpErr.Method,
			"url":             httpErr.URL,
		})
	case stderrors.As(err, &cancelErr):
		return wrap(ctx, CodeCancelled, err, "request cancelled")
	case stderrors.As(err, &transportErr):
		envelope := wrap(ctx, CodeTimeout, err, "upstream did not respond")
		return withContext(envelope, map[string]interface{}{
			"method": transportErr.Method,
			"url":    transportErr.URL,
		})
	case stderrors.Is(err, engine.ErrNoToken):
		return wrap(ctx, CodeUnauthorized, err, "no token configured for authenticated request")
	case stderrors.Is(err, engine.ErrClosed):
		return wrap(ctx, CodeUnavailable, err, "scheduler is shutting down")
	}
	return nil
}

func apiErrorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeInvalidInput
	}
}

func withContext(envelope *errors.ErrorEnvelope, values map[string]interface{}) *errors.ErrorEnvelope {
	updated, err := envelope.WithContext(values)
	if err != nil {
		return envelope
	}
	return updated
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}
