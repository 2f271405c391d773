package store

import (
	"context"
	"time"
)

// JobStatus is the last build status recorded for a job.
type JobStatus struct {
	Key       string    `json:"key"`
	Status    uint8     `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is the outcome of one pipeline run.
type Run struct {
	ID           string     `json:"id"`
	Trigger      string     `json:"trigger"` // "cli", "startup", "schedule", "api"
	Status       string     `json:"status"`  // "running", "success", "no_builds", "failure"
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Jobs         int        `json:"jobs"`
	Fetched      int        `json:"fetched"`
	FetchErrors  int        `json:"fetch_errors"`
	Failing      int        `json:"failing"`
	NewlyFailing int        `json:"newly_failing"`
	ErrorMsg     string     `json:"error,omitempty"`
}

// StatusStore persists the last-known build status of every job.
type StatusStore interface {
	// UpdateStatus stores status for key and returns the value it replaced.
	// found is false when key had never been recorded. The write happens
	// even when the value is unchanged.
	UpdateStatus(ctx context.Context, key string, status uint8) (prev uint8, found bool, err error)
	ListStatuses(ctx context.Context) ([]JobStatus, error)
	Close() error
}
