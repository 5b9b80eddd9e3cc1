package workers

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/finsight/internal/common"
	"github.com/fedutinova/finsight/internal/database"
	"github.com/fedutinova/finsight/internal/extract"
	"github.com/fedutinova/finsight/internal/job"
	"github.com/fedutinova/finsight/internal/models"
	"github.com/fedutinova/finsight/internal/pipeline"
	"github.com/fedutinova/finsight/internal/repository"
	"github.com/fedutinova/finsight/internal/storage"
)

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) Extract(ctx context.Context, content io.Reader) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

type stubCompleter struct{}

func (c *stubCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "stub completion", nil
}

func getTestRepo(t *testing.T) *repository.Repository {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("Skipping handler test: TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, databaseURL)
	if err != nil {
		t.Skipf("Skipping handler test: database not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.New(db)
}

func newHandlerHarness(t *testing.T, ex extract.TextExtractor) (*AnalysisHandler, *repository.Repository, storage.Storage) {
	t.Helper()

	repo := getTestRepo(t)
	st := storage.NewLocalStorage(t.TempDir())
	executor := pipeline.NewExecutor(st, ex, &stubCompleter{}, nil, time.Minute)
	h := NewAnalysisHandler(repo, st, executor, nil, 0)
	return h, repo, st
}

func seedJob(t *testing.T, repo *repository.Repository, st storage.Storage, content string) *job.Job {
	t.Helper()
	ctx := context.Background()

	fileID := uuid.New().String()
	key, err := st.SaveArtifact(ctx, fileID, strings.NewReader(content))
	if err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if _, err := repo.CreateJob(ctx, fileID, "report.pdf", "What are the risks?"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return &job.Job{FileID: fileID, Filename: "report.pdf", Query: "What are the risks?", ArtifactKey: key}
}

func artifactGone(st storage.Storage, key string) bool {
	r, err := st.OpenArtifact(context.Background(), key)
	if err != nil {
		return common.IsNotFound(err)
	}
	r.Close()
	return false
}

func TestHandleAnalysisJob_Completes(t *testing.T) {
	h, repo, st := newHandlerHarness(t, &stubExtractor{text: "Revenue grew 12% year over year."})
	ctx := context.Background()

	j := seedJob(t, repo, st, "%PDF-1.4 raw bytes")
	if err := h.HandleAnalysisJob(ctx, j); err != nil {
		t.Fatalf("HandleAnalysisJob: %v", err)
	}

	row, err := repo.GetJob(ctx, j.FileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if row.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", row.Status)
	}
	if row.Result == nil || !strings.Contains(*row.Result, "Financial Analysis") {
		t.Fatalf("expected aggregated report, got %v", row.Result)
	}
	if !artifactGone(st, j.ArtifactKey) {
		t.Fatal("artifact must be deleted once the job is terminal")
	}
}

func TestHandleAnalysisJob_EmptyDocumentFails(t *testing.T) {
	h, repo, st := newHandlerHarness(t, &stubExtractor{text: "   \n\t  "})
	ctx := context.Background()

	j := seedJob(t, repo, st, "%PDF-1.4 raw bytes")
	if err := h.HandleAnalysisJob(ctx, j); err != nil {
		t.Fatalf("HandleAnalysisJob: %v", err)
	}

	row, err := repo.GetJob(ctx, j.FileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if row.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", row.Status)
	}
	if row.Error == nil || !strings.Contains(*row.Error, "no extractable text") {
		t.Fatalf("expected empty-document error recorded, got %v", row.Error)
	}
	if !artifactGone(st, j.ArtifactKey) {
		t.Fatal("artifact must be deleted on FAILED as well")
	}
}

func TestHandleAnalysisJob_ExtractorFaultFails(t *testing.T) {
	h, repo, st := newHandlerHarness(t, &stubExtractor{err: errors.New("tika: 422")})
	ctx := context.Background()

	j := seedJob(t, repo, st, "garbage")
	if err := h.HandleAnalysisJob(ctx, j); err != nil {
		t.Fatalf("HandleAnalysisJob: %v", err)
	}

	row, err := repo.GetJob(ctx, j.FileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if row.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", row.Status)
	}
}

func TestHandleAnalysisJob_RedeliveryIsNoOp(t *testing.T) {
	h, repo, st := newHandlerHarness(t, &stubExtractor{text: "Stable cash flow."})
	ctx := context.Background()

	j := seedJob(t, repo, st, "%PDF-1.4 raw bytes")
	if err := h.HandleAnalysisJob(ctx, j); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	row, err := repo.GetJob(ctx, j.FileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	firstResult := *row.Result

	// second delivery of the same message must not touch the terminal row
	if err := h.HandleAnalysisJob(ctx, j); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	row, err = repo.GetJob(ctx, j.FileID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if row.Status != models.StatusCompleted || *row.Result != firstResult {
		t.Fatal("redelivery altered a terminal row")
	}
}
