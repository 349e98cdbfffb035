// Package history keeps a bounded, in-memory record of recent API calls
// for support and debugging.
package history

import (
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
)

const (
	// DefaultCapacity is the number of entries kept before the oldest is evicted.
	DefaultCapacity = 10
	// DefaultSnapshotLimit bounds each stored snapshot, in runes.
	DefaultSnapshotLimit = 500
)

// Recorder is a fixed-capacity FIFO of history entries. It is safe for
// concurrent use.
type Recorder struct {
	mu       sync.Mutex
	entries  []domain.HistoryEntry
	capacity int
	onEvict  func()
	now      func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEvictionHook registers fn to be called once per evicted entry.
func WithEvictionHook(fn func()) Option {
	return func(r *Recorder) { r.onEvict = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder; a non-positive capacity uses DefaultCapacity.
func NewRecorder(capacity int, opts ...Option) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Recorder{
		entries:  make([]domain.HistoryEntry, 0, capacity+1),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends entry at the tail and evicts from the head while the
// buffer is over capacity. Missing IDs and timestamps are filled in.
func (r *Recorder) Record(entry domain.HistoryEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	r.mu.Lock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	r.entries = append(r.entries, entry)
	evicted := 0
	for len(r.entries) > r.capacity {
		r.entries[0] = domain.HistoryEntry{}
		r.entries = r.entries[1:]
		evicted++
	}
	if evicted > 0 && cap(r.entries) > 4*r.capacity {
		// reslicing from the head leaks the backing array; compact now and then
		r.entries = append(make([]domain.HistoryEntry, 0, r.capacity+1), r.entries...)
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for i := 0; i < evicted; i++ {
			r.onEvict()
		}
	}
}

// Entries returns a copy of the buffer, oldest first.
func (r *Recorder) Entries() []domain.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of stored entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Capacity returns the configured bound.
func (r *Recorder) Capacity() int {
	return r.capacity
}

// Reset drops all entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}

// Snapshot serializes v and truncates the result to limit runes.
// Byte slices and json.RawMessage are stored as-is; strings are not re-quoted.
// Sensitive JSON fields (passwords, tokens, invite codes) are masked
// before truncation.
func Snapshot(v any, limit int) string {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}

	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case []byte:
		s = string(t)
	case json.RawMessage:
		s = string(t)
	case *domain.APIError:
		b, _ := json.Marshal(t)
		s = string(b)
	case error:
		s = t.Error()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "<unserializable: " + err.Error() + ">"
		}
		s = string(b)
	}
	return truncate(redact(s), limit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
