package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasSublimit(t *testing.T) {
	type channelEdit struct {
		Name string `json:"name,omitempty"`
		NSFW bool   `json:"nsfw,omitempty"`
	}

	cases := []struct {
		name   string
		route  string
		body   any
		method string
		want   bool
	}{
		{name: "other routes always", route: "/channels/:id/messages", body: nil, method: "POST", want: true},
		{name: "channel rename map", route: "/channels/:id", body: map[string]any{"name": "general"}, method: "PATCH", want: true},
		{name: "channel topic raw", route: "/channels/:id", body: json.RawMessage(`{"topic":"news"}`), method: "PATCH", want: true},
		{name: "channel rename struct", route: "/channels/:id", body: channelEdit{Name: "general"}, method: "PATCH", want: true},
		{name: "channel flags only", route: "/channels/:id", body: channelEdit{NSFW: true}, method: "PATCH", want: false},
		{name: "channel post", route: "/channels/:id", body: map[string]any{"name": "general"}, method: "POST", want: false},
		{name: "channel no body", route: "/channels/:id", body: nil, method: "PATCH", want: false},
		{name: "channel array body", route: "/channels/:id", body: []any{"name"}, method: "PATCH", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, hasSublimit(tc.route, tc.body, tc.method))
		})
	}
}
