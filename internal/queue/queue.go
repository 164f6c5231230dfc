// Package queue provides the background job facade for long-running
// generations: enqueue with priority, status lookup, cancel, retry, and
// completion waits. Redis backs the queue in production; when the broker
// is unreachable at startup the gateway degrades to a NullQueue that
// still accepts jobs but never executes them, without affecting
// synchronous traffic.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modelrelay/internal/core"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Priority orders jobs within the waiting queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// rank returns the numeric weight; lower ranks dequeue first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// normalize maps unknown priorities to normal.
func (p Priority) normalize() Priority {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p
	default:
		return PriorityNormal
	}
}

// Job is one queued generation.
type Job struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Request     *core.ChatRequest  `json:"request"`
	Priority    Priority           `json:"priority"`
	State       State              `json:"state"`
	Progress    int                `json:"progress"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"max_attempts"`
	Error       string             `json:"error,omitempty"`
	ErrorCode   core.Code          `json:"error_code,omitempty"`
	Result      *core.ChatResponse `json:"result,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	FinishedAt  time.Time          `json:"finished_at,omitempty"`
	// ReadyAt is when a delayed job becomes due.
	ReadyAt time.Time `json:"ready_at,omitempty"`
}

// Spec describes a job to enqueue.
type Spec struct {
	UserID      string
	Request     *core.ChatRequest
	Priority    Priority
	Delay       time.Duration
	MaxAttempts int
}

// DefaultMaxAttempts is the per-job execution budget when the spec does
// not set one.
const DefaultMaxAttempts = 3

// newJob materializes a Spec into a fresh waiting (or delayed) job.
func newJob(spec Spec, now time.Time) (*Job, error) {
	if spec.Request == nil {
		return nil, core.Errorf(core.CodeInvalidRequest, "job request is required")
	}
	job := &Job{
		ID:          uuid.NewString(),
		UserID:      spec.UserID,
		Request:     spec.Request,
		Priority:    spec.Priority.normalize(),
		State:       StateWaiting,
		MaxAttempts: spec.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if spec.Delay > 0 {
		job.State = StateDelayed
		job.ReadyAt = now.Add(spec.Delay)
	}
	return job, nil
}

// Queue is the job facade the HTTP layer calls. All implementations are
// safe for concurrent use.
type Queue interface {
	// Enqueue accepts a job. A Spec.Delay > 0 parks it in the delayed
	// state until due.
	Enqueue(ctx context.Context, spec Spec) (*Job, error)

	// Status returns the job. Unknown ids return CodeNotFound. Lookups
	// are idempotent; terminal jobs keep returning their final state
	// until retention expires.
	Status(ctx context.Context, id string) (*Job, error)

	// Cancel removes a job that has not started. Only waiting and
	// delayed jobs can be cancelled; anything else returns
	// CodeConflict.
	Cancel(ctx context.Context, id string) error

	// Retry re-enqueues a failed job, preserving its attempt count.
	// Only failed jobs can be retried; anything else returns
	// CodeConflict.
	Retry(ctx context.Context, id string) (*Job, error)

	// WaitForCompletion blocks until the job reaches a terminal state or
	// the timeout expires (CodeTimeout).
	WaitForCompletion(ctx context.Context, id string, timeout time.Duration) (*Job, error)

	// Depth returns the number of waiting plus delayed jobs.
	Depth(ctx context.Context) (int, error)

	// Available reports whether the broker is reachable. The NullQueue
	// reports false.
	Available() bool

	// Close releases broker connections.
	Close() error
}

// Broker is the worker-facing surface of a queue backend.
type Broker interface {
	// Dequeue pops the highest-priority due job and marks it active.
	// No job ready returns (nil, nil).
	Dequeue(ctx context.Context) (*Job, error)

	// Heartbeat refreshes the active lease so the stall detector leaves
	// the job alone.
	Heartbeat(ctx context.Context, id string) error

	// SetProgress records a progress milestone (0-100).
	SetProgress(ctx context.Context, id string, progress int) error

	// Complete stores the result and finishes the job.
	Complete(ctx context.Context, id string, result *core.ChatResponse) error

	// Fail records the failure. Retryable failures with remaining
	// attempts re-enter the delayed queue; the rest go to failed.
	Fail(ctx context.Context, id string, jobErr *core.Error, retryIn time.Duration) error

	// RequeueStalled returns active jobs whose heartbeat is older than
	// the stall timeout to the waiting queue.
	RequeueStalled(ctx context.Context, stallTimeout time.Duration) (int, error)
}

// defaultPollInterval paces WaitForCompletion status checks.
const defaultPollInterval = 250 * time.Millisecond

// pollCompletion drives WaitForCompletion for backends without a
// native blocking primitive.
func pollCompletion(ctx context.Context, id string, timeout, interval time.Duration,
	status func(context.Context, string) (*Job, error)) (*Job, error) {

	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := status(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return nil, core.Errorf(core.CodeTimeout,
				"job %s did not complete within %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, core.AsError(ctx.Err())
		case <-ticker.C:
		}
	}
}

func notFound(id string) *core.Error {
	return core.Errorf(core.CodeNotFound, "job %s not found", id)
}

func cancelStateError(id string, state State) *core.Error {
	return core.Errorf(core.CodeConflict,
		"job %s is %s; only waiting or delayed jobs can be cancelled", id, state)
}

func retryStateError(id string, state State) *core.Error {
	return core.Errorf(core.CodeConflict,
		"job %s is %s; only failed jobs can be retried", id, state)
}
