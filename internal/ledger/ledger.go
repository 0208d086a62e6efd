// Package ledger keeps an optional index of runs created by the coordinator.
//
// The ledger records what the coordinator did (run created, worker submitted
// or rejected). It never decides run state; that still comes from the
// workspace written by the worker.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("run not found in ledger")

const (
	DispatchQueued    = "queued"
	DispatchSubmitted = "submitted"
	DispatchFailed    = "failed"
)

type Entry struct {
	RunID          string    `json:"run_id"`
	Scenario       string    `json:"scenario"`
	JobName        string    `json:"job_name"`
	DispatchStatus string    `json:"dispatch_status"`
	DispatchError  string    `json:"dispatch_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Store interface {
	Create(ctx context.Context, entry Entry) error
	MarkSubmitted(ctx context.Context, runID string, at time.Time) error
	MarkFailed(ctx context.Context, runID string, reason string, at time.Time) error
	Get(ctx context.Context, runID string) (Entry, error)
	// List returns the newest entries first.
	List(ctx context.Context, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}
