package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/finsight/internal/common"
	"github.com/fedutinova/finsight/internal/database"
	"github.com/fedutinova/finsight/internal/models"
)

func getTestRepo(t *testing.T) *Repository {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("Skipping ledger test: TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, databaseURL)
	if err != nil {
		t.Skipf("Skipping ledger test: database not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return New(db)
}

func TestCreateJob_InsertsPending(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	j, err := repo.CreateJob(ctx, fileID, "report.pdf", "Analyze this document")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.Status != models.StatusPending {
		t.Fatalf("expected PENDING, got %s", j.Status)
	}
	if j.ID == 0 {
		t.Fatalf("expected auto-increment id to be set")
	}

	got, err := repo.GetJob(ctx, fileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Filename != "report.pdf" || got.Status != models.StatusPending {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.Result != nil {
		t.Fatalf("expected null result on PENDING row")
	}
}

func TestCreateJob_DuplicateFileID(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	if _, err := repo.CreateJob(ctx, fileID, "a.pdf", "q"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, err := repo.CreateJob(ctx, fileID, "b.pdf", "q")
	if !errors.Is(err, common.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestTerminalTransition_FirstWriteWins(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	if _, err := repo.CreateJob(ctx, fileID, "a.pdf", "q"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	live, err := repo.MarkRunning(ctx, fileID)
	if err != nil || !live {
		t.Fatalf("MarkRunning: live=%v err=%v", live, err)
	}

	updated, err := repo.CompleteJob(ctx, fileID, "final report")
	if err != nil || !updated {
		t.Fatalf("CompleteJob: updated=%v err=%v", updated, err)
	}

	// a redelivered job must not flip a terminal row
	updated, err = repo.FailJob(ctx, fileID, "late failure")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if updated {
		t.Fatalf("expected terminal state to be immutable")
	}

	live, err = repo.MarkRunning(ctx, fileID)
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if live {
		t.Fatalf("expected MarkRunning no-op on terminal row")
	}

	got, err := repo.GetJob(ctx, fileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.Result == nil || *got.Result != "final report" {
		t.Fatalf("expected result to survive the late failure write")
	}
}

func TestFailJob_RecordsError(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	if _, err := repo.CreateJob(ctx, fileID, "a.pdf", "q"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	updated, err := repo.FailJob(ctx, fileID, "document contains no extractable text")
	if err != nil || !updated {
		t.Fatalf("FailJob: updated=%v err=%v", updated, err)
	}

	got, err := repo.GetJob(ctx, fileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.Error == nil || *got.Error == "" {
		t.Fatalf("expected error text to be recorded")
	}
	if got.Result != nil {
		t.Fatalf("expected null result on FAILED row")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	repo := getTestRepo(t)

	_, err := repo.GetJob(context.Background(), uuid.New().String())
	if !common.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailStalePending(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	if _, err := repo.CreateJob(ctx, fileID, "a.pdf", "q"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// nothing is older than an hour yet
	ids, err := repo.FailStalePending(ctx, "1 hour")
	if err != nil {
		t.Fatalf("FailStalePending: %v", err)
	}
	for _, id := range ids {
		if id == fileID {
			t.Fatalf("fresh job must not be expired")
		}
	}

	// everything PENDING is older than zero seconds
	ids, err = repo.FailStalePending(ctx, "0 seconds")
	if err != nil {
		t.Fatalf("FailStalePending: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == fileID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected job to be expired")
	}

	got, err := repo.GetJob(ctx, fileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED after sweep, got %s", got.Status)
	}
}
