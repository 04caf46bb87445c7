package output

import (
	"encoding/json"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatBatch renders a batch result as JSON.
func (f *JSONFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.format(result)
}

// FormatBuckets renders stored bucket hashes as a JSON array.
func (f *JSONFormatter) FormatBuckets(entries []store.BucketEntry) (string, error) {
	if entries == nil {
		entries = []store.BucketEntry{}
	}
	return f.format(entries)
}

func (f *JSONFormatter) format(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
