package cmd

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
	apperrors "github.com/namelens/ratelane/internal/errors"
	"github.com/namelens/ratelane/internal/server/handlers"
)

// dispatch submits spec through the scheduler and summarizes the outcome.
// Failures are reported in the result rather than returned.
func dispatch(ctx context.Context, submitter handlers.Submitter, spec core.RequestSpec) *core.RequestResult {
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	result := &core.RequestResult{
		ID:     spec.ID,
		Method: method,
		Path:   spec.Path,
	}

	started := time.Now()
	resp, err := submitter.Submit(ctx, method, spec.Path, requestOptions(spec))
	result.DurationMS = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now().UTC()

	if resp != nil {
		applyResponse(result, resp)
	}
	if err != nil {
		applyError(ctx, result, err)
	}
	return result
}

func requestOptions(spec core.RequestSpec) engine.RequestOptions {
	opts := engine.RequestOptions{
		Body:    spec.Body,
		Headers: spec.Headers,
		Reason:  spec.Reason,
		NoAuth:  spec.NoAuth,
	}
	if len(spec.Query) > 0 {
		opts.Query = make(url.Values, len(spec.Query))
		for key, value := range spec.Query {
			opts.Query.Set(key, value)
		}
	}
	return opts
}

func applyResponse(result *core.RequestResult, resp *engine.Response) {
	result.Status = resp.StatusCode
	result.Bucket = resp.Header.Get("X-RateLimit-Bucket")
	result.Limit = resp.Header.Get("X-RateLimit-Limit")
	result.Remaining = resp.Header.Get("X-RateLimit-Remaining")

	body := strings.TrimSpace(string(resp.Body))
	switch {
	case body == "":
	case json.Valid(resp.Body):
		result.Body = json.RawMessage(resp.Body)
	default:
		result.Text = body
	}
}

func applyError(ctx context.Context, result *core.RequestResult, err error) {
	envelope := apperrors.FromEngineError(ctx, err)
	if envelope == nil {
		envelope = apperrors.EnsureEnvelope(err)
	}
	result.ErrorCode = envelope.Code
	result.Error = envelope.Message

	var (
		apiErr  *engine.APIError
		httpErr *engine.HTTPError
		rateErr *engine.RateLimitError
	)
	switch {
	case stderrors.As(err, &apiErr):
		result.Status = apiErr.Status
	case stderrors.As(err, &httpErr):
		result.Status = httpErr.Status
	case stderrors.As(err, &rateErr):
		result.Status = http.StatusTooManyRequests
	}
}
