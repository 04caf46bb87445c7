package output

import (
	"fmt"
	"strings"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders request results and stored bucket state.
type Formatter interface {
	FormatBatch(result *core.BatchResult) (string, error)
	FormatBuckets(entries []store.BucketEntry) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FormatResult renders a single request. JSON output is the result object
// itself rather than a one-element batch.
func FormatResult(format Format, result *core.RequestResult) (string, error) {
	if result == nil {
		return "", nil
	}
	if format == FormatJSON {
		return (&JSONFormatter{Indent: true}).format(result)
	}
	return NewFormatter(format).FormatBatch(&core.BatchResult{Results: []*core.RequestResult{result}})
}
