package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyRouteMajorParameter(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	route := ClassifyRoute("GET", "/channels/111111111111111111/messages/222222222222222222", now)
	require.Equal(t, "/channels/:id/messages/:id", route.BucketRoute)
	require.Equal(t, "111111111111111111", route.MajorParameter)
	require.Equal(t, "/channels/111111111111111111/messages/222222222222222222", route.Original)

	route = ClassifyRoute("GET", "/users/@me/guilds", now)
	require.Equal(t, "/users/@me/guilds", route.BucketRoute)
	require.Equal(t, GlobalMajorParameter, route.MajorParameter)

	route = ClassifyRoute("POST", "/webhooks/333333333333333333/some-token", now)
	require.Equal(t, "333333333333333333", route.MajorParameter)
	require.Equal(t, "/webhooks/:id/some-token", route.BucketRoute)
}

func TestClassifyRouteShortIDsStayLiteral(t *testing.T) {
	route := ClassifyRoute("GET", "/channels/123/messages/456", time.Now())
	require.Equal(t, "/channels/123/messages/456", route.BucketRoute)
	require.Equal(t, GlobalMajorParameter, route.MajorParameter)
}

func TestClassifyRouteReactions(t *testing.T) {
	now := time.Now()
	first := ClassifyRoute("PUT", "/channels/111111111111111111/messages/222222222222222222/reactions/%F0%9F%91%8D/@me", now)
	second := ClassifyRoute("PUT", "/channels/111111111111111111/messages/222222222222222222/reactions/custom:444444444444444444/@me", now)

	require.Equal(t, "/channels/:id/messages/:id/reactions/:reaction", first.BucketRoute)
	require.Equal(t, first.BucketRoute, second.BucketRoute)
}

func TestClassifyRouteOldMessageDelete(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	channel := "111111111111111111"

	fresh := Snowflake(now.Add(-time.Hour))
	stale := Snowflake(now.Add(-15 * 24 * time.Hour))

	route := ClassifyRoute("DELETE", "/channels/"+channel+"/messages/"+fresh, now)
	require.Equal(t, "/channels/:id/messages/:id", route.BucketRoute)

	route = ClassifyRoute("DELETE", "/channels/"+channel+"/messages/"+stale, now)
	require.Equal(t, "/channels/:id/messages/:id/Delete Old Message", route.BucketRoute)

	route = ClassifyRoute("GET", "/channels/"+channel+"/messages/"+stale, now)
	require.Equal(t, "/channels/:id/messages/:id", route.BucketRoute)
}

func TestClassifyRouteDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	path := "/channels/111111111111111111/messages/222222222222222222"

	require.Equal(t, ClassifyRoute("GET", path, now), ClassifyRoute("GET", path, now))
}

func TestSnowflakeTime(t *testing.T) {
	created := time.Date(2024, 3, 9, 12, 30, 0, 0, time.UTC)
	got, ok := SnowflakeTime(Snowflake(created))
	require.True(t, ok)
	require.Equal(t, created, got)

	_, ok = SnowflakeTime("not-a-number")
	require.False(t, ok)
	_, ok = SnowflakeTime("")
	require.False(t, ok)
}

func TestBucketHashExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	hash := BucketHash{Value: "abc", LastAccess: now.Add(-25 * time.Hour).UnixMilli()}
	require.True(t, hash.Expired(now, 24*time.Hour))
	require.False(t, hash.Expired(now, 48*time.Hour))

	synthetic := SyntheticHash("GET", "/gateway")
	require.Equal(t, "Global(GET:/gateway)", synthetic.Value)
	require.True(t, synthetic.Synthetic())
	require.False(t, synthetic.Expired(now, time.Nanosecond))
	require.Equal(t, "GET:/gateway", HashKey("GET", "/gateway"))
}
