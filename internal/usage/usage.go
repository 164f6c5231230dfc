// Package usage records per-call token consumption and cost in a
// bounded in-memory ring. Accounting is best-effort: recording never
// blocks or fails a request, and the oldest entries are evicted once
// the ring is full.
package usage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelrelay/internal/core"
)

// DefaultCapacity bounds the ring when no capacity is configured.
const DefaultCapacity = 10000

// Record is one accounted generation call.
type Record struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Model     string            `json:"model"`
	Vendor    core.Vendor       `json:"vendor"`
	Usage     core.Usage        `json:"usage"`
	CostUSD   float64           `json:"cost_usd"`
	Streamed  bool              `json:"streamed"`
	Timestamp time.Time         `json:"timestamp"`
	Finish    core.FinishReason `json:"finish_reason,omitempty"`
}

// ModelSummary aggregates the records of one model.
type ModelSummary struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Summary aggregates a set of records.
type Summary struct {
	Requests         int                     `json:"requests"`
	PromptTokens     int                     `json:"prompt_tokens"`
	CompletionTokens int                     `json:"completion_tokens"`
	TotalTokens      int                     `json:"total_tokens"`
	CostUSD          float64                 `json:"cost_usd"`
	ByModel          map[string]ModelSummary `json:"by_model,omitempty"`
}

// Recorder is a fixed-capacity append-only ring of usage records.
// Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Record
	next    int
	full    bool

	clock func() time.Time
}

// NewRecorder creates a recorder holding at most capacity records.
// capacity <= 0 selects DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		entries: make([]Record, capacity),
		clock:   time.Now,
	}
}

// Record accounts one completed call and returns the stored record.
func (r *Recorder) Record(userID string, resp *core.ChatResponse, streamed bool) Record {
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Model:     resp.Model,
		Vendor:    resp.Vendor,
		Usage:     resp.Usage,
		CostUSD:   Cost(resp.Model, resp.Usage),
		Streamed:  streamed,
		Timestamp: r.clock(),
		Finish:    resp.FinishReason,
	}

	r.mu.Lock()
	r.entries[r.next] = rec
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		if !r.full {
			r.full = true
			slog.Debug("usage ring at capacity, oldest records will be evicted",
				"capacity", len(r.entries))
		}
	}
	r.mu.Unlock()
	return rec
}

// Len returns the number of retained records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// snapshot copies the retained records, oldest first.
func (r *Recorder) snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Record, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Record, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Summarize aggregates the retained records for one user since the
// given time. A zero since includes everything retained.
func (r *Recorder) Summarize(userID string, since time.Time) Summary {
	return summarize(r.snapshot(), func(rec Record) bool {
		if rec.UserID != userID {
			return false
		}
		return since.IsZero() || !rec.Timestamp.Before(since)
	})
}

// GlobalStats aggregates the retained records across all users since
// the given time. A zero since includes everything retained.
func (r *Recorder) GlobalStats(since time.Time) Summary {
	return summarize(r.snapshot(), func(rec Record) bool {
		return since.IsZero() || !rec.Timestamp.Before(since)
	})
}

func summarize(records []Record, keep func(Record) bool) Summary {
	s := Summary{ByModel: make(map[string]ModelSummary)}
	for _, rec := range records {
		if !keep(rec) {
			continue
		}
		s.Requests++
		s.PromptTokens += rec.Usage.PromptTokens
		s.CompletionTokens += rec.Usage.CompletionTokens
		s.TotalTokens += rec.Usage.TotalTokens
		s.CostUSD += rec.CostUSD

		m := s.ByModel[rec.Model]
		m.Requests++
		m.PromptTokens += rec.Usage.PromptTokens
		m.CompletionTokens += rec.Usage.CompletionTokens
		m.TotalTokens += rec.Usage.TotalTokens
		m.CostUSD += rec.CostUSD
		s.ByModel[rec.Model] = m
	}
	return s
}
