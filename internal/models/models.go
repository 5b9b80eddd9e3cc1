package models

import (
	"time"
)

// Job is one submitted document plus its query, tracked end to end by FileID.
// ID is the database auto-increment; FileID is the opaque token handed to the
// client at submission and used for polling.
type Job struct {
	ID        int64     `json:"id"`
	FileID    string    `json:"file_id"`
	Filename  string    `json:"filename"`
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	Result    *string   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
