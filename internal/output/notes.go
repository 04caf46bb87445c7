package output

import (
	"fmt"
	"strings"

	"github.com/namelens/ratelane/internal/core"
)

func requestLabel(result *core.RequestResult) string {
	label := result.Method + " " + result.Path
	if id := strings.TrimSpace(result.ID); id != "" {
		return id + ": " + label
	}
	return label
}

func statusLabel(result *core.RequestResult) string {
	if result == nil {
		return "unknown"
	}

	switch {
	case result.Succeeded():
		return fmt.Sprintf("%d ok", result.Status)
	case result.RateLimited():
		return "rate limited"
	case result.Status > 0:
		return fmt.Sprintf("%d error", result.Status)
	case result.ErrorCode != "":
		return strings.ToLower(strings.ReplaceAll(result.ErrorCode, "_", " "))
	default:
		return "error"
	}
}

func formatNotes(result *core.RequestResult) string {
	if result == nil {
		return ""
	}

	parts := []string{}
	if result.Error != "" {
		parts = append(parts, result.Error)
	}
	if result.Limit != "" {
		parts = append(parts, fmt.Sprintf("remaining: %s/%s", dash(result.Remaining), result.Limit))
	}
	return strings.Join(parts, "; ")
}

func summaryLine(result *core.BatchResult) string {
	summary := fmt.Sprintf("%d/%d succeeded", result.Succeeded, result.Succeeded+result.Failed)
	if result.RateLimited > 0 {
		summary += fmt.Sprintf(", %d rate limited", result.RateLimited)
	}
	return summary
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
