package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/finsight/internal/repository"
)

// Sweeper periodically fails PENDING jobs older than maxAge. A lost enqueue
// would otherwise leave the submitter polling PENDING forever.
type Sweeper struct {
	repo     *repository.Repository
	maxAge   time.Duration
	interval time.Duration
}

func NewSweeper(repo *repository.Repository, maxAge, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		maxAge:   maxAge,
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	maxAge := fmt.Sprintf("%d seconds", int64(s.maxAge.Seconds()))

	ids, err := s.repo.FailStalePending(ctx, maxAge)
	if err != nil {
		slog.Error("stale job sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		slog.Warn("expired stale pending jobs", "count", len(ids), "file_ids", ids)
	}
}
