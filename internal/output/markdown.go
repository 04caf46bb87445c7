package output

import (
	"fmt"
	"strings"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/store"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatBatch renders a batch result as Markdown.
func (f *MarkdownFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	if result.RunID != "" {
		sb.WriteString(fmt.Sprintf("## Batch %s\n\n", escapeMarkdownCell(result.RunID)))
	}
	sb.WriteString("| Request | Status | Bucket | Time | Notes |\n")
	sb.WriteString("|---------|--------|--------|------|-------|\n")

	for _, r := range result.Results {
		if r == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %dms | %s |\n",
			escapeMarkdownCell(requestLabel(r)),
			escapeMarkdownCell(statusLabel(r)),
			escapeMarkdownCell(dash(r.Bucket)),
			r.DurationMS,
			escapeMarkdownCell(formatNotes(r)),
		))
	}

	if len(result.Results) > 1 {
		sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", summaryLine(result)))
	}

	return sb.String(), nil
}

// FormatBuckets renders stored bucket hashes as Markdown.
func (f *MarkdownFormatter) FormatBuckets(entries []store.BucketEntry) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Key | Hash | Last Access |\n")
	sb.WriteString("|-----|------|-------------|\n")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
			escapeMarkdownCell(entry.Key),
			escapeMarkdownCell(entry.Hash.Value),
			lastAccessLabel(entry),
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
