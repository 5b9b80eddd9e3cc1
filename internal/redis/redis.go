package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fedutinova/finsight/internal/models"
	"github.com/redis/go-redis/v9"
)

type Service struct {
	client *redis.Client
}

func New(redisURL string) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client}, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Service) Client() *redis.Client {
	return s.client
}

// CacheResult stores a terminal ledger row so post-completion polling is
// served without hitting Postgres. Only terminal rows belong here: PENDING
// and RUNNING are moving targets.
func (s *Service) CacheResult(ctx context.Context, j *models.Job, ttl time.Duration) error {
	if !models.IsTerminal(j.Status) {
		return nil
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job for cache: %w", err)
	}

	key := fmt.Sprintf("result:%s", j.FileID)
	return s.client.Set(ctx, key, data, ttl).Err()
}

// GetCachedResult returns a cached terminal row, or (nil, nil) on a miss.
func (s *Service) GetCachedResult(ctx context.Context, fileID string) (*models.Job, error) {
	key := fmt.Sprintf("result:%s", fileID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached result: %w", err)
	}

	var j models.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return &j, nil
}
