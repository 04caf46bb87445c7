package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/core"
)

// execute performs one attempt of req. It reports retry when a transport
// failure may be retried and retries remain.
func (m *Manager) execute(ctx context.Context, route core.RouteID, req *Request, retries int) (*Response, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, false, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	httpReq.Header = req.Header.Clone()

	resp, err := m.do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, cancelled(ctx)
		}
		if shouldRetry(err) && retries < m.opts.Retries {
			m.hooks.debug("retrying " + req.Method + " " + route.BucketRoute + " after transport error: " + err.Error())
			return nil, true, nil
		}
		return nil, false, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}

	m.hooks.response(core.APIRequest{
		Method:  req.Method,
		Path:    route.Original,
		Route:   route.BucketRoute,
		URL:     req.URL,
		Retries: retries,
		Body:    req.Data,
	}, resp)

	return resp, false, nil
}

func (m *Manager) do(httpReq *http.Request) (*Response, error) {
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

// shouldRetry reports whether a transport error is an attempt timeout or a
// connection reset.
func shouldRetry(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// handleErrors classifies non-2xx, non-429 responses. It reports retry for
// 5xx responses while retries remain.
func (m *Manager) handleErrors(resp *Response, req *Request, retries int) (*Response, bool, error) {
	status := resp.StatusCode
	if status >= 500 && status < 600 {
		if retries < m.opts.Retries {
			return nil, true, nil
		}
		return nil, false, &HTTPError{Status: status, StatusText: http.StatusText(status), Method: req.Method, URL: req.URL}
	}

	if status >= 400 && status < 500 {
		apiErr := newAPIError(status, req.Method, req.URL, resp.Body)
		if status == http.StatusUnauthorized && req.Auth {
			m.authWarning.Do(func() {
				m.logger.Warn("Token rejected by API, removing it from the manager",
					zap.Int("code", apiErr.Code),
					zap.String("message", apiErr.Message))
			})
			m.SetToken("")
		}
		return nil, false, apiErr
	}

	return resp, false, nil
}

// countInvalid feeds 401, 403 and 429 responses to the invalid request counter.
func (m *Manager) countInvalid(status int) {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
	default:
		return
	}
	if warning, ok := m.invalid.Increment(m.opts.InvalidRequestWarningInterval); ok {
		m.hooks.invalidRequestWarning(warning)
	}
}

// onRateLimit returns a RateLimitError when the request's reject policy matches.
func (m *Manager) onRateLimit(ctx context.Context, data core.RateLimitData, req *Request) error {
	policy := req.RejectPolicy
	if policy == nil {
		policy = m.opts.RejectOnRateLimit
	}
	if policy != nil && policy(ctx, data) {
		return &RateLimitError{RateLimitData: data}
	}
	return nil
}
