package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fedutinova/finsight/internal/job"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("Skipping queue test: TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping queue test: redis not available: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func newTestQueue(t *testing.T, client *redis.Client) *RedisQueue {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Stream = fmt.Sprintf("finsight:test:%s:%d", t.Name(), time.Now().UnixNano())
	cfg.ClaimInterval = 200 * time.Millisecond
	cfg.ClaimTimeout = 500 * time.Millisecond

	q, err := NewRedisQueue(client, cfg)
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	t.Cleanup(func() {
		client.Del(context.Background(), cfg.Stream, cfg.Stream+":deadletter")
	})
	return q
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func TestRedisQueue_DeliversAndAcks(t *testing.T) {
	client := getTestRedisClient(t)
	q := newTestQueue(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int64
	var gotFileID atomic.Value
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		gotFileID.Store(j.FileID)
		handled.Add(1)
		return nil
	})
	defer q.Close()

	j := &job.Job{FileID: "file-1", Filename: "r.pdf", Query: "q", ArtifactKey: "financial_document_file-1.pdf"}
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !waitFor(t, 10*time.Second, func() bool { return handled.Load() == 1 }) {
		t.Fatal("job was never handled")
	}
	if gotFileID.Load() != "file-1" {
		t.Fatalf("handler saw wrong job: %v", gotFileID.Load())
	}

	// acked on success, so nothing stays pending
	if !waitFor(t, 5*time.Second, func() bool { return q.Len() == 0 }) {
		t.Fatalf("expected empty pending list, got %d", q.Len())
	}
}

func TestRedisQueue_RedeliversOnHandlerError(t *testing.T) {
	client := getTestRedisClient(t)
	q := newTestQueue(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int64
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	defer q.Close()

	if err := q.Enqueue(ctx, &job.Job{FileID: "file-2", Filename: "r.pdf", Query: "q"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// first delivery fails and stays unacked; the claimer redelivers it
	if !waitFor(t, 15*time.Second, func() bool { return attempts.Load() >= 2 }) {
		t.Fatalf("expected redelivery after handler failure, attempts=%d", attempts.Load())
	}
}

func TestRedisQueue_DeadLetterRoundTrip(t *testing.T) {
	client := getTestRedisClient(t)
	q := newTestQueue(t, client)

	ctx := context.Background()

	if err := q.Enqueue(ctx, &job.Job{FileID: "poison", Filename: "p.pdf", Query: "q"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// deliver once without a running consumer so the entry stays pending
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "test-consumer",
		Streams:  []string{q.stream, ">"},
		Count:    1,
	}).Result()
	if err != nil {
		t.Fatalf("XReadGroup: %v", err)
	}
	msg := streams[0].Messages[0]

	q.moveToDeadLetter(ctx, msg, "exceeded max retries: 4")

	n, err := q.GetDeadLetterCount(ctx)
	if err != nil {
		t.Fatalf("GetDeadLetterCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", n)
	}
	// dead-lettering acks the original delivery
	if q.Len() != 0 {
		t.Fatalf("expected no pending entries after dead-letter, got %d", q.Len())
	}

	dl, err := client.XRange(ctx, q.stream+":deadletter", "-", "+").Result()
	if err != nil || len(dl) != 1 {
		t.Fatalf("XRange deadletter: %v (%d entries)", err, len(dl))
	}

	if err := q.RetryDeadLetterJob(ctx, dl[0].ID); err != nil {
		t.Fatalf("RetryDeadLetterJob: %v", err)
	}

	n, err = q.GetDeadLetterCount(ctx)
	if err != nil {
		t.Fatalf("GetDeadLetterCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected drained dead-letter stream, got %d", n)
	}

	length, err := client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	if length < 2 {
		t.Fatalf("expected the job back on the main stream, XLEN=%d", length)
	}
}
