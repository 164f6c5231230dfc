package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"modelrelay/internal/core"
)

// Memory is an in-process queue backend with the same semantics as the
// Redis backend. Tests use it directly; it carries no persistence.
type Memory struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	seq        map[string]int64
	heartbeats map[string]time.Time
	nextSeq    int64

	pollInterval time.Duration
	clock        func() time.Time
}

// NewMemory creates an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{
		jobs:         make(map[string]*Job),
		seq:          make(map[string]int64),
		heartbeats:   make(map[string]time.Time),
		pollInterval: 10 * time.Millisecond,
		clock:        time.Now,
	}
}

func cloneJob(src *Job) *Job {
	b, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("job not serializable: %v", err))
	}
	var dst Job
	if err := json.Unmarshal(b, &dst); err != nil {
		panic(fmt.Sprintf("job not deserializable: %v", err))
	}
	return &dst
}

// Enqueue implements Queue.
func (m *Memory) Enqueue(_ context.Context, spec Spec) (*Job, error) {
	job, err := newJob(spec, m.clock())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.nextSeq++
	m.seq[job.ID] = m.nextSeq
	m.mu.Unlock()
	return cloneJob(job), nil
}

// Status implements Queue.
func (m *Memory) Status(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneJob(job), nil
}

// Cancel implements Queue.
func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return notFound(id)
	}
	if job.State != StateWaiting && job.State != StateDelayed {
		return cancelStateError(id, job.State)
	}
	delete(m.jobs, id)
	delete(m.seq, id)
	return nil
}

// Retry implements Queue.
func (m *Memory) Retry(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	if job.State != StateFailed {
		return nil, retryStateError(id, job.State)
	}

	// Attempts carries over so the execution history stays visible.
	job.State = StateWaiting
	job.Progress = 0
	job.Error = ""
	job.ErrorCode = ""
	job.FinishedAt = time.Time{}
	job.UpdatedAt = m.clock()
	m.nextSeq++
	m.seq[id] = m.nextSeq
	return cloneJob(job), nil
}

// WaitForCompletion implements Queue.
func (m *Memory) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) (*Job, error) {
	return pollCompletion(ctx, id, timeout, m.pollInterval, m.Status)
}

// Depth implements Queue.
func (m *Memory) Depth(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.State == StateWaiting || job.State == StateDelayed {
			n++
		}
	}
	return n, nil
}

// Available implements Queue.
func (*Memory) Available() bool { return true }

// Close implements Queue.
func (*Memory) Close() error { return nil }

// Dequeue implements Broker. Due delayed jobs are promoted first; the
// waiting job with the best (priority, enqueue order) wins.
func (m *Memory) Dequeue(context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	for _, job := range m.jobs {
		if job.State == StateDelayed && !now.Before(job.ReadyAt) {
			job.State = StateWaiting
			job.ReadyAt = time.Time{}
			job.UpdatedAt = now
		}
	}

	var waiting []*Job
	for _, job := range m.jobs {
		if job.State == StateWaiting {
			waiting = append(waiting, job)
		}
	}
	if len(waiting) == 0 {
		return nil, nil
	}
	sort.Slice(waiting, func(i, j int) bool {
		ri, rj := waiting[i].Priority.rank(), waiting[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return m.seq[waiting[i].ID] < m.seq[waiting[j].ID]
	})

	job := waiting[0]
	job.State = StateActive
	job.Attempts++
	job.StartedAt = now
	job.UpdatedAt = now
	m.heartbeats[job.ID] = now
	return cloneJob(job), nil
}

// Heartbeat implements Broker.
func (m *Memory) Heartbeat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return notFound(id)
	}
	m.heartbeats[id] = m.clock()
	return nil
}

// SetProgress implements Broker.
func (m *Memory) SetProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return notFound(id)
	}
	job.Progress = progress
	job.UpdatedAt = m.clock()
	return nil
}

// Complete implements Broker.
func (m *Memory) Complete(_ context.Context, id string, result *core.ChatResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return notFound(id)
	}
	now := m.clock()
	job.State = StateCompleted
	job.Progress = 100
	job.Result = result
	job.FinishedAt = now
	job.UpdatedAt = now
	delete(m.heartbeats, id)
	return nil
}

// Fail implements Broker.
func (m *Memory) Fail(_ context.Context, id string, jobErr *core.Error, retryIn time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return notFound(id)
	}
	now := m.clock()
	job.Error = jobErr.Message
	job.ErrorCode = jobErr.Code
	job.UpdatedAt = now
	delete(m.heartbeats, id)

	if jobErr.Retryable() && job.Attempts < job.MaxAttempts {
		job.State = StateDelayed
		job.ReadyAt = now.Add(retryIn)
		return nil
	}
	job.State = StateFailed
	job.FinishedAt = now
	return nil
}

// RequeueStalled implements Broker.
func (m *Memory) RequeueStalled(_ context.Context, stallTimeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	requeued := 0
	for id, job := range m.jobs {
		if job.State != StateActive {
			continue
		}
		if now.Sub(m.heartbeats[id]) <= stallTimeout {
			continue
		}
		job.State = StateWaiting
		job.UpdatedAt = now
		delete(m.heartbeats, id)
		m.nextSeq++
		m.seq[id] = m.nextSeq
		requeued++
	}
	return requeued, nil
}
