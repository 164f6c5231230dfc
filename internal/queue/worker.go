package queue

import (
	"context"
	"log/slog"
	"time"

	"modelrelay/internal/core"
	"modelrelay/internal/metrics"
	"modelrelay/internal/usage"
)

// Progress milestones reported while a job runs.
const (
	progressStarted  = 10
	progressUpstream = 30
	progressDone     = 100
)

// WorkerConfig tunes the job worker.
type WorkerConfig struct {
	// PollInterval paces dequeue attempts when the queue is empty.
	PollInterval time.Duration
	// HeartbeatInterval refreshes the active lease while a job runs.
	HeartbeatInterval time.Duration
	// StallTimeout is how long an active job may go without a heartbeat
	// before it is requeued.
	StallTimeout time.Duration
	// RetryDelay is multiplied by the attempt count before a failed
	// retryable job becomes due again.
	RetryDelay time.Duration
	// JobTimeout bounds one generation call.
	JobTimeout time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	return c
}

// Worker drains the queue, executing jobs through the routing engine.
// Run one per process; the broker serializes job handoff across
// processes.
type Worker struct {
	broker    Broker
	generator core.Generator
	recorder  *usage.Recorder
	cfg       WorkerConfig
	logger    *slog.Logger
}

// NewWorker builds a worker. recorder may be nil to skip accounting.
func NewWorker(broker Broker, generator core.Generator, recorder *usage.Recorder, cfg WorkerConfig) *Worker {
	return &Worker{
		broker:    broker,
		generator: generator,
		recorder:  recorder,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default().With("component", "worker"),
	}
}

// Run processes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval, "stall_timeout", w.cfg.StallTimeout)

	stallTicker := time.NewTicker(w.cfg.StallTimeout / 2)
	defer stallTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-stallTicker.C:
			if n, err := w.broker.RequeueStalled(ctx, w.cfg.StallTimeout); err != nil {
				w.logger.Error("stall scan failed", "error", err)
			} else if n > 0 {
				w.logger.Warn("requeued stalled jobs", "count", n)
			}
		default:
		}

		job, err := w.broker.Dequeue(ctx)
		if err != nil {
			w.logger.Error("dequeue failed", "error", err)
			w.idle(ctx)
			continue
		}
		if job == nil {
			w.idle(ctx)
			continue
		}
		w.execute(ctx, job)
	}
}

func (w *Worker) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

func (w *Worker) execute(ctx context.Context, job *Job) {
	logger := w.logger.With("job_id", job.ID, "model", job.Request.Options.Model,
		"attempt", job.Attempts)
	logger.Info("job started", "priority", job.Priority)

	if err := w.broker.SetProgress(ctx, job.ID, progressStarted); err != nil {
		logger.Error("failed to report progress", "error", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, job.ID)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	if err := w.broker.SetProgress(ctx, job.ID, progressUpstream); err != nil {
		logger.Error("failed to report progress", "error", err)
	}
	resp, err := w.generator.Generate(jobCtx, job.Request)
	stopHeartbeat()

	if err != nil {
		ge := core.AsError(err)
		retryIn := w.cfg.RetryDelay * time.Duration(job.Attempts)
		if failErr := w.broker.Fail(ctx, job.ID, ge, retryIn); failErr != nil {
			logger.Error("failed to record job failure", "error", failErr)
			return
		}
		willRetry := ge.Retryable() && job.Attempts < job.MaxAttempts
		if willRetry {
			logger.Warn("job failed, will retry", "error", ge, "retry_in", retryIn)
		} else {
			logger.Error("job failed", "error", ge, "code", ge.Code)
			metrics.JobsCompleted.WithLabelValues(string(StateFailed)).Inc()
		}
		return
	}

	if err := w.broker.Complete(ctx, job.ID, resp); err != nil {
		logger.Error("failed to record job completion", "error", err)
		return
	}
	if w.recorder != nil {
		rec := w.recorder.Record(job.UserID, resp, false)
		metrics.ObserveUsage(resp.Model, resp.Usage, rec.CostUSD)
	}
	metrics.JobsCompleted.WithLabelValues(string(StateCompleted)).Inc()
	logger.Info("job completed", "total_tokens", resp.Usage.TotalTokens)
}

func (w *Worker) heartbeatLoop(ctx context.Context, id string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.broker.Heartbeat(ctx, id); err != nil {
				w.logger.Error("heartbeat failed", "job_id", id, "error", err)
			}
		}
	}
}
