package core

import (
	"encoding/json"
	"time"
)

// RequestSpec is one request read from a batch file or built from CLI flags.
type RequestSpec struct {
	ID      string            `yaml:"id" json:"id,omitempty"`
	Method  string            `yaml:"method" json:"method"`
	Path    string            `yaml:"path" json:"path"`
	Body    any               `yaml:"body" json:"body,omitempty"`
	Query   map[string]string `yaml:"query" json:"query,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Reason  string            `yaml:"reason" json:"reason,omitempty"`
	NoAuth  bool              `yaml:"no_auth" json:"no_auth,omitempty"`
}

// RequestResult captures the outcome of one scheduled request.
type RequestResult struct {
	ID          string          `json:"id,omitempty"`
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Status      int             `json:"status,omitempty"`
	Bucket      string          `json:"bucket,omitempty"`
	Limit       string          `json:"limit,omitempty"`
	Remaining   string          `json:"remaining,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	Body        json.RawMessage `json:"body,omitempty"`
	Text        string          `json:"text,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Succeeded reports a completed request with a 2xx status.
func (r *RequestResult) Succeeded() bool {
	return r != nil && r.Error == "" && r.Status >= 200 && r.Status < 300
}

// RateLimited reports a request that failed on a rate limit.
func (r *RequestResult) RateLimited() bool {
	return r != nil && (r.ErrorCode == "RATE_LIMITED" || r.Status == 429)
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	RunID       string           `json:"run_id"`
	Results     []*RequestResult `json:"results"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	RateLimited int              `json:"rate_limited"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Tally recomputes the counters from Results.
func (b *BatchResult) Tally() {
	b.Succeeded, b.Failed, b.RateLimited = 0, 0, 0
	for _, result := range b.Results {
		if result == nil {
			continue
		}
		if result.Succeeded() {
			b.Succeeded++
			continue
		}
		b.Failed++
		if result.RateLimited() {
			b.RateLimited++
		}
	}
}
