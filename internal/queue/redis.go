package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"modelrelay/internal/core"
)

const (
	keyPrefix  = "modelrelay:"
	waitingKey = keyPrefix + "queue:waiting"
	delayedKey = keyPrefix + "queue:delayed"
	activeKey  = keyPrefix + "queue:active"

	// terminalRetention keeps completed and failed jobs queryable before
	// their keys expire.
	terminalRetention = 24 * time.Hour

	// priorityBand separates priority ranks in the waiting zset score so
	// a high-priority job always sorts before any normal one regardless
	// of enqueue time.
	priorityBand = 1e13
)

// Redis is the production queue backend. Waiting jobs live in a sorted
// set scored by (priority band + enqueue time); delayed jobs in a set
// scored by their due time; active jobs in a set scored by their last
// heartbeat for stall detection.
type Redis struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedis connects to the broker and verifies it with a ping.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("job queue connected", "backend", "redis")
	return &Redis{client: client, clock: time.Now}, nil
}

func jobKey(id string) string {
	return keyPrefix + "job:" + id
}

func waitingScore(p Priority, t time.Time) float64 {
	return float64(p.rank())*priorityBand + float64(t.UnixMilli())
}

func marshalJob(job *Job) string {
	b, err := json.Marshal(job)
	if err != nil {
		// Job fields are all serializable; this cannot fail at runtime.
		panic(fmt.Sprintf("job not serializable: %v", err))
	}
	return string(b)
}

func (q *Redis) getJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, core.NewError(core.CodeQueueUnavailable, "failed to read job", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, core.NewError(core.CodeInternal, "corrupt job record", err)
	}
	return &job, nil
}

// updateJob applies fn to the job under an optimistic WATCH transaction.
// extra runs in the same transaction pipeline for zset bookkeeping.
func (q *Redis) updateJob(ctx context.Context, id string, fn func(*Job) error,
	extra func(pipe redis.Pipeliner, job *Job)) (*Job, error) {

	var updated *Job
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, jobKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return core.NewError(core.CodeInternal, "corrupt job record", err)
		}
		if err := fn(&job); err != nil {
			return err
		}
		job.UpdatedAt = q.clock()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(id), marshalJob(&job), 0)
			if job.State.Terminal() {
				pipe.Expire(ctx, jobKey(id), terminalRetention)
			}
			if extra != nil {
				extra(pipe, &job)
			}
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := q.client.Watch(ctx, txn, jobKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var ge *core.Error
			if errors.As(err, &ge) {
				return nil, ge
			}
			return nil, core.NewError(core.CodeQueueUnavailable, "failed to update job", err)
		}
		return updated, nil
	}
	return nil, core.Errorf(core.CodeQueueUnavailable, "job %s update kept conflicting", id)
}

// Enqueue implements Queue.
func (q *Redis) Enqueue(ctx context.Context, spec Spec) (*Job, error) {
	now := q.clock()
	job, err := newJob(spec, now)
	if err != nil {
		return nil, err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), marshalJob(job), 0)
		if job.State == StateDelayed {
			pipe.ZAdd(ctx, delayedKey, redis.Z{
				Score:  float64(job.ReadyAt.UnixMilli()),
				Member: job.ID,
			})
		} else {
			pipe.ZAdd(ctx, waitingKey, redis.Z{
				Score:  waitingScore(job.Priority, now),
				Member: job.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, core.NewError(core.CodeQueueUnavailable, "failed to enqueue job", err)
	}
	return job, nil
}

// Status implements Queue.
func (q *Redis) Status(ctx context.Context, id string) (*Job, error) {
	return q.getJob(ctx, id)
}

// Cancel implements Queue.
func (q *Redis) Cancel(ctx context.Context, id string) error {
	job, err := q.getJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateWaiting && job.State != StateDelayed {
		return cancelStateError(id, job.State)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, waitingKey, id)
		pipe.ZRem(ctx, delayedKey, id)
		pipe.Del(ctx, jobKey(id))
		return nil
	})
	if err != nil {
		return core.NewError(core.CodeQueueUnavailable, "failed to cancel job", err)
	}
	return nil
}

// Retry implements Queue.
func (q *Redis) Retry(ctx context.Context, id string) (*Job, error) {
	return q.updateJob(ctx, id, func(job *Job) error {
		if job.State != StateFailed {
			return retryStateError(id, job.State)
		}
		// Attempts carries over so the execution history stays visible.
		job.State = StateWaiting
		job.Progress = 0
		job.Error = ""
		job.ErrorCode = ""
		job.FinishedAt = time.Time{}
		return nil
	}, func(pipe redis.Pipeliner, job *Job) {
		// A retried job keeps its priority but re-enters at the back of
		// its band, and its terminal TTL is lifted.
		pipe.Persist(ctx, jobKey(id))
		pipe.ZAdd(ctx, waitingKey, redis.Z{
			Score:  waitingScore(job.Priority, q.clock()),
			Member: id,
		})
	})
}

// WaitForCompletion implements Queue.
func (q *Redis) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) (*Job, error) {
	return pollCompletion(ctx, id, timeout, defaultPollInterval, q.Status)
}

// Depth implements Queue.
func (q *Redis) Depth(ctx context.Context) (int, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, waitingKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, core.NewError(core.CodeQueueUnavailable, "failed to read queue depth", err)
	}
	return int(waiting.Val() + delayed.Val()), nil
}

// Available implements Queue.
func (*Redis) Available() bool { return true }

// Close implements Queue.
func (q *Redis) Close() error {
	return q.client.Close()
}

// promoteDelayed moves due delayed jobs into the waiting queue.
func (q *Redis) promoteDelayed(ctx context.Context) error {
	now := q.clock()
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	for _, id := range due {
		if _, err := q.updateJob(ctx, id, func(job *Job) error {
			if job.State != StateDelayed {
				return nil
			}
			job.State = StateWaiting
			job.ReadyAt = time.Time{}
			return nil
		}, func(pipe redis.Pipeliner, job *Job) {
			pipe.ZRem(ctx, delayedKey, id)
			pipe.ZAdd(ctx, waitingKey, redis.Z{
				Score:  waitingScore(job.Priority, now),
				Member: id,
			})
		}); err != nil {
			var ge *core.Error
			// A job cancelled between the range read and the update is fine.
			if errors.As(err, &ge) && ge.Code == core.CodeNotFound {
				q.client.ZRem(ctx, delayedKey, id)
				continue
			}
			return err
		}
	}
	return nil
}

// Dequeue implements Broker.
func (q *Redis) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, core.NewError(core.CodeQueueUnavailable, "failed to promote delayed jobs", err)
	}

	popped, err := q.client.ZPopMin(ctx, waitingKey, 1).Result()
	if err != nil {
		return nil, core.NewError(core.CodeQueueUnavailable, "failed to pop job", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}
	id, _ := popped[0].Member.(string)

	now := q.clock()
	job, err := q.updateJob(ctx, id, func(job *Job) error {
		job.State = StateActive
		job.Attempts++
		job.StartedAt = now
		return nil
	}, func(pipe redis.Pipeliner, _ *Job) {
		pipe.ZAdd(ctx, activeKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	})
	if err != nil {
		var ge *core.Error
		if errors.As(err, &ge) && ge.Code == core.CodeNotFound {
			// Cancelled while being popped; nothing to run.
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat implements Broker.
func (q *Redis) Heartbeat(ctx context.Context, id string) error {
	err := q.client.ZAddXX(ctx, activeKey, redis.Z{
		Score:  float64(q.clock().UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return core.NewError(core.CodeQueueUnavailable, "failed to heartbeat job", err)
	}
	return nil
}

// SetProgress implements Broker.
func (q *Redis) SetProgress(ctx context.Context, id string, progress int) error {
	_, err := q.updateJob(ctx, id, func(job *Job) error {
		job.Progress = progress
		return nil
	}, nil)
	return err
}

// Complete implements Broker.
func (q *Redis) Complete(ctx context.Context, id string, result *core.ChatResponse) error {
	_, err := q.updateJob(ctx, id, func(job *Job) error {
		job.State = StateCompleted
		job.Progress = 100
		job.Result = result
		job.FinishedAt = q.clock()
		return nil
	}, func(pipe redis.Pipeliner, _ *Job) {
		pipe.ZRem(ctx, activeKey, id)
	})
	return err
}

// Fail implements Broker.
func (q *Redis) Fail(ctx context.Context, id string, jobErr *core.Error, retryIn time.Duration) error {
	now := q.clock()
	_, err := q.updateJob(ctx, id, func(job *Job) error {
		job.Error = jobErr.Message
		job.ErrorCode = jobErr.Code
		if jobErr.Retryable() && job.Attempts < job.MaxAttempts {
			job.State = StateDelayed
			job.ReadyAt = now.Add(retryIn)
			return nil
		}
		job.State = StateFailed
		job.FinishedAt = now
		return nil
	}, func(pipe redis.Pipeliner, job *Job) {
		pipe.ZRem(ctx, activeKey, id)
		if job.State == StateDelayed {
			pipe.ZAdd(ctx, delayedKey, redis.Z{
				Score:  float64(job.ReadyAt.UnixMilli()),
				Member: id,
			})
		}
	})
	return err
}

// RequeueStalled implements Broker.
func (q *Redis) RequeueStalled(ctx context.Context, stallTimeout time.Duration) (int, error) {
	cutoff := q.clock().Add(-stallTimeout)
	stalled, err := q.client.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, core.NewError(core.CodeQueueUnavailable, "failed to scan for stalled jobs", err)
	}

	requeued := 0
	for _, id := range stalled {
		_, err := q.updateJob(ctx, id, func(job *Job) error {
			if job.State != StateActive {
				return nil
			}
			job.State = StateWaiting
			return nil
		}, func(pipe redis.Pipeliner, job *Job) {
			pipe.ZRem(ctx, activeKey, id)
			pipe.ZAdd(ctx, waitingKey, redis.Z{
				Score:  waitingScore(job.Priority, q.clock()),
				Member: id,
			})
		})
		if err != nil {
			var ge *core.Error
			if errors.As(err, &ge) && ge.Code == core.CodeNotFound {
				q.client.ZRem(ctx, activeKey, id)
				continue
			}
			return requeued, err
		}
		slog.Warn("requeued stalled job", "job_id", id, "stall_timeout", stallTimeout)
		requeued++
	}
	return requeued, nil
}
