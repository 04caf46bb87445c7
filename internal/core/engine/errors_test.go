package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/core"
)

func TestNewAPIErrorFlattensFieldErrors(t *testing.T) {
	body := []byte(`{
		"code": 50035,
		"message": "Invalid Form Body",
		"errors": {
			"content": {"_errors": [{"code": "BASE_TYPE_MAX_LENGTH", "message": "Must be 2000 or fewer in length."}]},
			"embeds": {"0": {"title": {"_errors": [{"code": "BASE_TYPE_REQUIRED", "message": "This field is required"}]}}}
		}
	}`)

	apiErr := newAPIError(400, "POST", "https://api.test/v10/channels/1/messages", body)
	require.Equal(t, 50035, apiErr.Code)
	require.Equal(t, 400, apiErr.Status)
	require.Equal(t, "Invalid Form Body\n"+
		"content[BASE_TYPE_MAX_LENGTH]: Must be 2000 or fewer in length.\n"+
		"embeds[0].title[BASE_TYPE_REQUIRED]: This field is required", apiErr.Message)
	require.Contains(t, apiErr.Error(), "50035")
}

func TestNewAPIErrorOAuth(t *testing.T) {
	apiErr := newAPIError(400, "POST", "https://api.test/oauth2/token", []byte(`{"error":"invalid_grant","error_description":"Invalid code"}`))
	require.Equal(t, "invalid_grant", apiErr.OAuthCode)
	require.Equal(t, "Invalid code", apiErr.Message)
	require.Contains(t, apiErr.Error(), "invalid_grant")
}

func TestNewAPIErrorPlainBody(t *testing.T) {
	apiErr := newAPIError(404, "GET", "https://api.test/x", []byte("not here"))
	require.Equal(t, "not here", apiErr.Message)

	apiErr = newAPIError(404, "GET", "https://api.test/x", nil)
	require.Equal(t, "Not Found", apiErr.Message)
}

func TestErrorTypesUnwrap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cancelled(ctx)
	require.ErrorIs(t, err, context.Canceled)

	var cancelledErr *CancelledError
	require.True(t, errors.As(err, &cancelledErr))

	transport := &TransportError{Method: "GET", URL: "https://api.test", Err: context.DeadlineExceeded}
	require.ErrorIs(t, transport, context.DeadlineExceeded)

	rateErr := &RateLimitError{RateLimitData: core.RateLimitData{Global: true, Method: "GET", Route: "/gateway"}}
	require.Contains(t, rateErr.Error(), "global rate limit")

	httpErr := &HTTPError{Status: 502, Method: "GET", URL: "https://api.test"}
	require.Contains(t, httpErr.Error(), "Bad Gateway")
}
