package queue

import (
	"context"
	"sync"
	"time"

	"modelrelay/internal/core"
)

// NullQueue is the degraded-mode queue used when the broker is
// unreachable at startup. Enqueue still succeeds so callers stay
// fire-and-forget, but no worker drains it: accepted jobs sit in the
// waiting state until the process restarts. Available reports false so
// /health exposes the degradation.
type NullQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewNull creates the degraded-mode queue.
func NewNull() *NullQueue {
	return &NullQueue{jobs: make(map[string]*Job)}
}

// Enqueue implements Queue.
func (n *NullQueue) Enqueue(_ context.Context, spec Spec) (*Job, error) {
	job, err := newJob(spec, time.Now())
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.jobs[job.ID] = job
	n.mu.Unlock()
	return cloneJob(job), nil
}

// Status implements Queue. Accepted jobs report their enqueue-time
// state forever; they never progress.
func (n *NullQueue) Status(_ context.Context, id string) (*Job, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	job, ok := n.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneJob(job), nil
}

// Cancel implements Queue.
func (n *NullQueue) Cancel(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.jobs[id]; !ok {
		return notFound(id)
	}
	delete(n.jobs, id)
	return nil
}

// Retry implements Queue. Jobs never execute here, so none can be in
// the failed state.
func (n *NullQueue) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := n.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, retryStateError(id, job.State)
}

// WaitForCompletion implements Queue. Jobs never reach a terminal
// state, so a wait can only time out.
func (n *NullQueue) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) (*Job, error) {
	if _, err := n.Status(ctx, id); err != nil {
		return nil, err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, core.AsError(ctx.Err())
	case <-t.C:
		return nil, core.Errorf(core.CodeTimeout,
			"job %s did not complete within %s", id, timeout)
	}
}

// Depth implements Queue.
func (n *NullQueue) Depth(context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs), nil
}

// Available implements Queue. Always false: accepted jobs are not
// executing.
func (*NullQueue) Available() bool { return false }

// Close implements Queue.
func (*NullQueue) Close() error { return nil }
