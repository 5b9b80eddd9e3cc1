package memq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/finsight/internal/job"
)

type JobHandler func(ctx context.Context, j *job.Job) error

// JobQueue dispatches jobs to a worker pool. The queue is deliberately
// ignorant of job status; only the worker writes status, via the ledger.
type JobQueue interface {
	Enqueue(ctx context.Context, j *job.Job) error
	StartConsumers(ctx context.Context, n int, handler JobHandler)
	Len() int
	Close() error
}

type delivery struct {
	job      *job.Job
	attempts int
}

type memQueue struct {
	buf        chan delivery
	maxWait    time.Duration
	maxRetries int

	closeOnce sync.Once
}

// NewMemoryQueue is the single-process dispatcher used in dev mode and tests.
// Failed deliveries are re-queued up to maxRetries times so the at-least-once
// contract holds here too, not only on the Redis path.
func NewMemoryQueue(buffer int, maxJobDuration time.Duration) JobQueue {
	return &memQueue{
		buf:        make(chan delivery, buffer),
		maxWait:    maxJobDuration,
		maxRetries: 3,
	}
}

func (q *memQueue) Enqueue(ctx context.Context, j *job.Job) error {
	if j.Enqueued.IsZero() {
		j.Enqueued = time.Now()
	}

	select {
	case q.buf <- delivery{job: j}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memQueue) StartConsumers(ctx context.Context, n int, handler JobHandler) {
	for i := 0; i < n; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-q.buf:
					runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
					err := handler(runCtx, d.job)
					cancel()

					if err == nil {
						slog.Info("job done", "file_id", d.job.FileID, "worker", workerID)
						continue
					}

					d.attempts++
					if d.attempts > q.maxRetries {
						slog.Error("job dropped after retries",
							"file_id", d.job.FileID, "attempts", d.attempts, "err", err)
						continue
					}

					slog.Warn("job failed, re-queueing",
						"file_id", d.job.FileID, "attempt", d.attempts, "err", err, "worker", workerID)
					select {
					case q.buf <- d:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i + 1)
	}
}

func (q *memQueue) Len() int {
	return len(q.buf)
}

func (q *memQueue) Close() error {
	// nothing owned outside the process
	return nil
}
