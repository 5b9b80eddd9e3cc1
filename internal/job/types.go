package job

import (
	"time"
)

// Job is the queue-level descriptor handed to the worker pool. It carries just
// enough to run the pipeline; the durable status lives in the ledger, not here.
type Job struct {
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	Query       string    `json:"query"`
	ArtifactKey string    `json:"artifact_key"`
	Enqueued    time.Time `json:"enqueued_at"`
}
