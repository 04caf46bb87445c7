package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/store"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatBatch renders a batch result as a table.
func (f *TableFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Request", "Status", "Bucket", "Time", "Notes"})

	for _, r := range result.Results {
		if r == nil {
			continue
		}
		t.AppendRow(table.Row{
			requestLabel(r),
			statusLabel(r),
			dash(r.Bucket),
			fmt.Sprintf("%dms", r.DurationMS),
			formatNotes(r),
		})
	}

	if len(result.Results) > 1 {
		t.AppendFooter(table.Row{"", summaryLine(result), "", "", ""})
	}

	return t.Render(), nil
}

// FormatBuckets renders stored bucket hashes as a table.
func (f *TableFormatter) FormatBuckets(entries []store.BucketEntry) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Hash", "Last Access"})

	for _, entry := range entries {
		t.AppendRow(table.Row{entry.Key, entry.Hash.Value, lastAccessLabel(entry)})
	}
	if len(entries) == 0 {
		t.AppendRow(table.Row{"(no stored bucket hashes)", "", ""})
	}

	return t.Render(), nil
}

func lastAccessLabel(entry store.BucketEntry) string {
	at := entry.LastAccessTime()
	if at.IsZero() {
		return "-"
	}
	return at.Format(time.RFC3339)
}
