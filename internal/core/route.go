package core

import (
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// SnowflakeEpoch is the epoch of resource IDs, in Unix milliseconds.
const SnowflakeEpoch int64 = 1420070400000

// OldMessageAge is the age past which message deletes fall into a separate bucket.
const OldMessageAge = 14 * 24 * time.Hour

const oldMessageSuffix = "/Delete Old Message"

var (
	majorParameterPattern = regexp.MustCompile(`^/(?:channels|guilds|webhooks)/(\d{17,19})`)
	idPattern             = regexp.MustCompile(`\d{17,19}`)
	trailingIDPattern     = regexp.MustCompile(`\d{17,19}$`)
	reactionPattern       = regexp.MustCompile(`/reactions/(.*)`)
)

// ClassifyRoute maps a method and path to its rate limit bucket route and
// major parameter. The result depends only on its inputs.
func ClassifyRoute(method, path string, now time.Time) RouteID {
	major := GlobalMajorParameter
	if match := majorParameterPattern.FindStringSubmatch(path); len(match) == 2 {
		major = match[1]
	}

	route := idPattern.ReplaceAllString(path, ":id")
	route = reactionPattern.ReplaceAllString(route, "/reactions/:reaction")

	if method == http.MethodDelete && route == "/channels/:id/messages/:id" {
		if created, ok := SnowflakeTime(trailingIDPattern.FindString(path)); ok {
			if now.Sub(created) > OldMessageAge {
				route += oldMessageSuffix
			}
		}
	}

	return RouteID{
		BucketRoute:    route,
		MajorParameter: major,
		Original:       path,
	}
}

// SnowflakeTime extracts the creation time encoded in a resource ID.
func SnowflakeTime(id string) (time.Time, bool) {
	if id == "" {
		return time.Time{}, false
	}
	value, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	ms := int64(value>>22) + SnowflakeEpoch
	return time.UnixMilli(ms).UTC(), true
}

// Snowflake builds a resource ID for the given creation time. The worker,
// process and increment bits are left as zero.
func Snowflake(created time.Time) string {
	ms := created.UnixMilli() - SnowflakeEpoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}
