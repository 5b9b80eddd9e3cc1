package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fedutinova/finsight/internal/common"
	"github.com/fedutinova/finsight/internal/database"
	"github.com/fedutinova/finsight/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the job ledger: the single durable source of truth shared by
// the API process and the worker pool. Every mutation is a single statement,
// and terminal transitions are guarded by the status predicate so a redelivered
// job can never regress or double-write a result.
type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *database.DB {
	return r.db
}

const uniqueViolation = "23505"

// CreateJob inserts a PENDING row for a freshly submitted document.
// A file_id collision returns ErrDuplicateJob; identifier generation makes
// that practically impossible, the unique index makes it impossible anyway.
func (r *Repository) CreateJob(ctx context.Context, fileID, filename, query string) (*models.Job, error) {
	const q = `
		INSERT INTO jobs (file_id, filename, query, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	j := &models.Job{
		FileID:   fileID,
		Filename: filename,
		Query:    query,
		Status:   models.StatusPending,
	}

	err := r.db.Pool().QueryRow(ctx, q, fileID, filename, query, models.StatusPending).
		Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrDuplicateJob
		}
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	return j, nil
}

// MarkRunning moves a PENDING job to RUNNING. Already-terminal rows are left
// untouched so an at-least-once redelivery cannot resurrect a finished job;
// the returned bool tells the worker whether the job is still live.
func (r *Repository) MarkRunning(ctx context.Context, fileID string) (bool, error) {
	const q = `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE file_id = $2 AND status IN ($3, $4)
	`

	tag, err := r.db.Pool().Exec(ctx, q, models.StatusRunning, fileID,
		models.StatusPending, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteJob atomically writes the result and flips status to COMPLETED.
// Status and result land in one statement: no observer can see COMPLETED with
// a null result. The first terminal write wins.
func (r *Repository) CompleteJob(ctx context.Context, fileID, result string) (bool, error) {
	const q = `
		UPDATE jobs
		SET status = $1, result = $2, error = NULL, updated_at = NOW()
		WHERE file_id = $3 AND status NOT IN ($4, $5)
	`

	tag, err := r.db.Pool().Exec(ctx, q, models.StatusCompleted, result, fileID,
		models.StatusCompleted, models.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailJob atomically records the failure reason and flips status to FAILED.
func (r *Repository) FailJob(ctx context.Context, fileID, errText string) (bool, error) {
	const q = `
		UPDATE jobs
		SET status = $1, error = $2, result = NULL, updated_at = NOW()
		WHERE file_id = $3 AND status NOT IN ($4, $5)
	`

	tag, err := r.db.Pool().Exec(ctx, q, models.StatusFailed, errText, fileID,
		models.StatusCompleted, models.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetJob returns the full ledger row for a file_id.
func (r *Repository) GetJob(ctx context.Context, fileID string) (*models.Job, error) {
	const q = `
		SELECT id, file_id, filename, query, status, result, error, created_at, updated_at
		FROM jobs
		WHERE file_id = $1
	`

	var j models.Job
	var result, errText sql.NullString

	err := r.db.Pool().QueryRow(ctx, q, fileID).Scan(
		&j.ID,
		&j.FileID,
		&j.Filename,
		&j.Query,
		&j.Status,
		&result,
		&errText,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if result.Valid {
		j.Result = &result.String
	}
	if errText.Valid {
		j.Error = &errText.String
	}

	return &j, nil
}

// FailStalePending marks PENDING rows older than maxAge as FAILED and returns
// the file_ids it touched. This is the safety net for jobs whose enqueue was
// lost; without it a poller would see PENDING forever.
func (r *Repository) FailStalePending(ctx context.Context, maxAge string) ([]string, error) {
	const q = `
		UPDATE jobs
		SET status = $1, error = $2, updated_at = NOW()
		WHERE status = $3 AND created_at < NOW() - $4::interval
		RETURNING file_id
	`

	rows, err := r.db.Pool().Query(ctx, q, models.StatusFailed,
		"job expired before a worker picked it up", models.StatusPending, maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
