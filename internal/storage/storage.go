package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage is the artifact store: one uploaded document per job, keyed by the
// job's file_id. Artifacts live only for the duration of the pipeline and are
// deleted unconditionally once the job reaches a terminal state.
type Storage interface {
	// SaveArtifact durably writes the document and returns its key.
	// A failed write surfaces before any ledger row exists.
	SaveArtifact(ctx context.Context, fileID string, content io.Reader) (string, error)

	// OpenArtifact resolves a key back to the document content.
	OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteArtifact is idempotent: deleting a missing artifact is not an
	// error. Failures must not block result delivery.
	DeleteArtifact(ctx context.Context, key string) error
}

// ArtifactKey is the canonical object name for a job's document.
func ArtifactKey(fileID string) string {
	return fmt.Sprintf("financial_document_%s.pdf", fileID)
}
