package domain

import "time"

// HistoryEntry is one recorded transport attempt. Exactly one of
// Response and Error is set; both are truncated snapshots.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    Method    `json:"method"`
	URL       string    `json:"url"`
	Body      string    `json:"body,omitempty"`
	Status    int       `json:"status"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Failed reports whether the attempt ended in an error.
func (e HistoryEntry) Failed() bool {
	return e.Error != ""
}

// DiagnosticsSnapshot is served by GET /debug/history.
type DiagnosticsSnapshot struct {
	Capacity  int            `json:"capacity"`
	Entries   []HistoryEntry `json:"entries"`
	Evicted   float64        `json:"evicted"`
	Requests  float64        `json:"requests"`
	Failures  float64        `json:"failures"`
	CacheHits float64        `json:"cacheHits"`
	Breaker   string         `json:"breaker,omitempty"`
}
