package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/finsight/internal/job"
	"github.com/fedutinova/finsight/internal/memq"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements JobQueue using Redis Streams. Messages are only acked
// after the handler returns, so a worker crash mid-pipeline leaves the entry
// pending and the claimer redelivers it: at-least-once, never zero times.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	maxWait       time.Duration
	claimInterval time.Duration // how often to check for stuck deliveries
	claimTimeout  time.Duration // consider a delivery stuck after this duration

	wg      sync.WaitGroup
	closing chan struct{}
}

// RedisQueueConfig holds configuration for RedisQueue
type RedisQueueConfig struct {
	Stream        string
	Group         string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	ClaimTimeout  time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "finsight:jobs",
		Group:         "workers",
		MaxJobTime:    2 * time.Hour,
		ClaimInterval: 30 * time.Second,
		ClaimTimeout:  2 * time.Hour,
	}
}

// NewRedisQueue creates a new Redis Streams based queue
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	q := &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		maxWait:       cfg.MaxJobTime,
		claimInterval: cfg.ClaimInterval,
		claimTimeout:  cfg.ClaimTimeout,
		closing:       make(chan struct{}),
	}

	// Create consumer group if it doesn't exist
	ctx := context.Background()
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("Redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"max_job_time", q.maxWait,
		"claim_timeout", q.claimTimeout)

	return q, nil
}

// Enqueue adds a job to the stream. It blocks the caller only for the broker
// round-trip, never for the pipeline.
func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job) error {
	if j.Enqueued.IsZero() {
		j.Enqueued = time.Now()
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"file_id": j.FileID,
			"data":    string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add job to stream: %w", err)
	}

	slog.Debug("job enqueued", "file_id", j.FileID)
	return nil
}

// Len returns approximate number of pending jobs
func (q *RedisQueue) Len() int {
	ctx := context.Background()
	info, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0
	}
	for _, g := range info {
		if g.Name == q.group {
			return int(g.Pending)
		}
	}
	return 0
}

// StartConsumers starts n consumer goroutines plus the claimer.
func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler memq.JobHandler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.consumer(ctx, i+1, handler)
	}

	q.wg.Add(1)
	go q.claimer(ctx, handler)

	slog.Info("started queue consumers", "count", n)
}

// consumer processes jobs from the stream
func (q *RedisQueue) consumer(ctx context.Context, workerID int, handler memq.JobHandler) {
	defer q.wg.Done()
	consumerName := fmt.Sprintf("worker-%d", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer shutting down", "worker", workerID)
			return
		case <-q.closing:
			slog.Info("consumer received close signal", "worker", workerID)
			return
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumerName,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("failed to read from stream", "error", err, "worker", workerID)
			time.Sleep(time.Second) // backoff on error
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.processMessage(ctx, msg, handler, workerID)
			}
		}
	}
}

// claimer reclaims stuck jobs from dead consumers
func (q *RedisQueue) claimer(ctx context.Context, handler memq.JobHandler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
			q.claimStuckJobs(ctx, handler)
		}
	}
}

// claimStuckJobs finds and reclaims deliveries that have been pending too long
func (q *RedisQueue) claimStuckJobs(ctx context.Context, handler memq.JobHandler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()

	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("failed to get pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		if p.Idle < q.claimTimeout {
			continue
		}

		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: "claimer",
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()

		if err != nil {
			slog.Error("failed to claim stuck job", "message_id", p.ID, "error", err)
			continue
		}

		for _, msg := range msgs {
			slog.Warn("reclaimed stuck job",
				"message_id", msg.ID,
				"idle_time", p.Idle,
				"retry_count", p.RetryCount)

			// too many redeliveries means the job itself is poison
			if p.RetryCount > 3 {
				q.moveToDeadLetter(ctx, msg, fmt.Sprintf("exceeded max retries: %d", p.RetryCount))
				continue
			}

			go q.processMessage(ctx, msg, handler, 0)
		}
	}
}

// processMessage handles a single message from the stream
func (q *RedisQueue) processMessage(ctx context.Context, msg redis.XMessage, handler memq.JobHandler, workerID int) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		slog.Error("invalid message format", "message_id", msg.ID)
		q.ackMessage(ctx, msg.ID)
		return
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		slog.Error("failed to unmarshal job", "message_id", msg.ID, "error", err)
		q.ackMessage(ctx, msg.ID)
		return
	}

	slog.Info("processing job", "file_id", j.FileID, "worker", workerID)
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, &j)
	cancel()

	if err != nil {
		slog.Error("job handler failed", "file_id", j.FileID, "error", err, "worker", workerID)
		// leave unacked: the claimer will redeliver, the ledger guard keeps
		// the re-run safe
		return
	}

	slog.Info("job handled", "file_id", j.FileID, "worker", workerID,
		"duration", time.Since(start))
	q.ackMessage(ctx, msg.ID)
}

// moveToDeadLetter moves a poison job to the dead letter stream
func (q *RedisQueue) moveToDeadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	dlStream := q.stream + ":deadletter"

	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlStream,
		Values: map[string]any{
			"original_id": msg.ID,
			"data":        msg.Values["data"],
			"reason":      reason,
			"moved_at":    time.Now().Format(time.RFC3339),
		},
	}).Result()

	if err != nil {
		slog.Error("failed to move to dead letter", "message_id", msg.ID, "error", err)
	} else {
		slog.Warn("moved job to dead letter queue", "message_id", msg.ID, "reason", reason)
	}

	q.ackMessage(ctx, msg.ID)
}

// ackMessage acknowledges a message
func (q *RedisQueue) ackMessage(ctx context.Context, messageID string) {
	err := q.client.XAck(ctx, q.stream, q.group, messageID).Err()
	if err != nil {
		slog.Error("failed to ack message", "message_id", messageID, "error", err)
	}
}

// Close gracefully shuts down the queue
func (q *RedisQueue) Close() error {
	close(q.closing)
	q.wg.Wait()
	slog.Info("queue closed gracefully")
	return nil
}

// isGroupExistsError checks if error is "BUSYGROUP Consumer Group name already exists"
func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// GetDeadLetterCount returns count of jobs in the dead letter stream
func (q *RedisQueue) GetDeadLetterCount(ctx context.Context) (int64, error) {
	dlStream := q.stream + ":deadletter"
	return q.client.XLen(ctx, dlStream).Result()
}

// RetryDeadLetterJob moves a job from dead letter back to the main stream
func (q *RedisQueue) RetryDeadLetterJob(ctx context.Context, messageID string) error {
	dlStream := q.stream + ":deadletter"

	msgs, err := q.client.XRange(ctx, dlStream, messageID, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead letter message: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	msg := msgs[0]
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"file_id": msg.Values["original_id"],
			"data":    data,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to re-add job: %w", err)
	}

	_, err = q.client.XDel(ctx, dlStream, messageID).Result()
	if err != nil {
		slog.Warn("failed to delete from dead letter", "message_id", messageID, "error", err)
	}

	return nil
}
