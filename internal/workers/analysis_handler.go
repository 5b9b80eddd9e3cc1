package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/finsight/internal/job"
	"github.com/fedutinova/finsight/internal/pipeline"
	"github.com/fedutinova/finsight/internal/redis"
	"github.com/fedutinova/finsight/internal/repository"
	"github.com/fedutinova/finsight/internal/storage"
)

// AnalysisHandler executes one queued analysis job end to end. It is the only
// actor that writes terminal status; whatever happens inside the pipeline, the
// job reaches COMPLETED or FAILED and the artifact is removed.
type AnalysisHandler struct {
	repo     *repository.Repository
	storage  storage.Storage
	executor *pipeline.Executor
	cache    *redis.Service
	cacheTTL time.Duration
}

func NewAnalysisHandler(repo *repository.Repository, st storage.Storage, ex *pipeline.Executor, cache *redis.Service, cacheTTL time.Duration) *AnalysisHandler {
	return &AnalysisHandler{
		repo:     repo,
		storage:  st,
		executor: ex,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// HandleAnalysisJob is the queue handler. A returned error means the ledger
// could not be updated and the delivery should be retried; pipeline failures
// are not errors here, they are FAILED rows.
func (h *AnalysisHandler) HandleAnalysisJob(ctx context.Context, j *job.Job) error {
	live, err := h.repo.MarkRunning(ctx, j.FileID)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if !live {
		// redelivery of an already-terminal job; just enforce cleanup
		slog.Info("skipping redelivered terminal job", "file_id", j.FileID)
		h.deleteArtifact(ctx, j.ArtifactKey)
		return nil
	}

	slog.Info("starting analysis pipeline",
		"file_id", j.FileID,
		"filename", j.Filename)

	result, pipeErr := h.executor.Run(ctx, j.ArtifactKey, j.Query)

	var updated bool
	if pipeErr != nil {
		slog.Error("analysis pipeline failed", "file_id", j.FileID, "error", pipeErr)
		updated, err = h.repo.FailJob(ctx, j.FileID, pipeErr.Error())
	} else {
		updated, err = h.repo.CompleteJob(ctx, j.FileID, result)
	}
	if err != nil {
		// terminal write failed; leave the artifact so the redelivery can
		// re-run the pipeline
		return fmt.Errorf("failed to write terminal status: %w", err)
	}
	if !updated {
		slog.Warn("terminal status already written by another delivery", "file_id", j.FileID)
	}

	h.cacheResult(ctx, j.FileID)
	h.deleteArtifact(ctx, j.ArtifactKey)

	if pipeErr == nil {
		slog.Info("analysis job completed", "file_id", j.FileID)
	}
	return nil
}

// deleteArtifact enforces the cleanup guarantee: unconditional on terminal
// state, best-effort, never blocks result delivery.
func (h *AnalysisHandler) deleteArtifact(ctx context.Context, key string) {
	if err := h.storage.DeleteArtifact(ctx, key); err != nil {
		slog.Error("failed to delete artifact", "key", key, "error", err)
	}
}

// cacheResult pushes the terminal row into the result cache so polling stops
// hitting Postgres. Best-effort.
func (h *AnalysisHandler) cacheResult(ctx context.Context, fileID string) {
	if h.cache == nil {
		return
	}

	row, err := h.repo.GetJob(ctx, fileID)
	if err != nil {
		slog.Warn("failed to load job for result cache", "file_id", fileID, "err", err)
		return
	}
	if err := h.cache.CacheResult(ctx, row, h.cacheTTL); err != nil {
		slog.Warn("failed to cache result", "file_id", fileID, "err", err)
	}
}
