package usage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/core"
)

func resp(model string, prompt, completion int) *core.ChatResponse {
	return &core.ChatResponse{
		Model:        model,
		Vendor:       core.VendorGemini,
		FinishReason: core.FinishStop,
		Usage: core.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

func TestRecordComputesCost(t *testing.T) {
	r := NewRecorder(10)

	rec := r.Record("alice", resp("gemini-2.5-flash", 1_000_000, 1_000_000), false)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "alice", rec.UserID)
	assert.InDelta(t, 0.30+2.50, rec.CostUSD, 1e-9)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestUnknownModelCostsZero(t *testing.T) {
	r := NewRecorder(10)
	rec := r.Record("alice", resp("some-internal-model", 50_000, 50_000), false)
	assert.Zero(t, rec.CostUSD)
	assert.Equal(t, 1, r.GlobalStats(time.Time{}).Requests, "unpriced calls are still counted")
}

func TestRingEvictsOldest(t *testing.T) {
	const capacity = 8
	r := NewRecorder(capacity)

	for i := 0; i < capacity*3; i++ {
		r.Record(fmt.Sprintf("user-%d", i), resp("gemini-2.5-flash", 10, 10), false)
	}
	assert.Equal(t, capacity, r.Len())

	// Only the newest capacity records survive.
	records := r.snapshot()
	require.Len(t, records, capacity)
	assert.Equal(t, fmt.Sprintf("user-%d", capacity*3-capacity), records[0].UserID)
	assert.Equal(t, fmt.Sprintf("user-%d", capacity*3-1), records[capacity-1].UserID)
}

func TestSummarizeFiltersUserAndPeriod(t *testing.T) {
	r := NewRecorder(100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now.Add(-2 * time.Hour) }
	r.Record("alice", resp("gemini-2.5-flash", 100, 50), false)

	r.clock = func() time.Time { return now }
	r.Record("alice", resp("gemini-2.5-pro", 200, 100), true)
	r.Record("bob", resp("gemini-2.5-flash", 300, 150), false)

	all := r.Summarize("alice", time.Time{})
	assert.Equal(t, 2, all.Requests)
	assert.Equal(t, 300, all.PromptTokens)
	assert.Equal(t, 150, all.CompletionTokens)

	recent := r.Summarize("alice", now.Add(-time.Hour))
	assert.Equal(t, 1, recent.Requests)
	assert.Equal(t, 200, recent.PromptTokens)

	byModel := all.ByModel
	require.Contains(t, byModel, "gemini-2.5-flash")
	require.Contains(t, byModel, "gemini-2.5-pro")
	assert.Equal(t, 1, byModel["gemini-2.5-flash"].Requests)
}

func TestGlobalStats(t *testing.T) {
	r := NewRecorder(100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now.Add(-2 * time.Hour) }
	r.Record("alice", resp("gemini-2.5-flash", 100, 50), false)

	r.clock = func() time.Time { return now }
	r.Record("bob", resp("gemini-2.5-flash", 100, 50), false)

	g := r.GlobalStats(time.Time{})
	assert.Equal(t, 2, g.Requests)
	assert.Equal(t, 300, g.TotalTokens)
	assert.Equal(t, 2, g.ByModel["gemini-2.5-flash"].Requests)

	recent := r.GlobalStats(now.Add(-time.Hour))
	assert.Equal(t, 1, recent.Requests, "the period filter applies across users")
}

func TestRecorderConcurrentRecord(t *testing.T) {
	r := NewRecorder(64)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				r.Record("alice", resp("gemini-2.5-flash", 1, 1), false)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 64, r.Len())
}

func TestPriceFor(t *testing.T) {
	p, ok := PriceFor("gemini-2.5-pro")
	require.True(t, ok)
	assert.Equal(t, 1.25, p.InputPerMTok)

	_, ok = PriceFor("nope")
	assert.False(t, ok)
}
