package coordinator

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrRunNotFound     = errors.New("run not found")
	ErrLedgerDisabled  = errors.New("run ledger is disabled")
	ErrNoReportStore   = errors.New("report storage is not configured")
)

// WorkspaceError means the run directory or its metadata could not be
// written. The run was not dispatched.
type WorkspaceError struct {
	RunID string
	Err   error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("create workspace for %s: %v", e.RunID, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// DispatchError means the worker submission was rejected. The workspace
// exists and the run stays pending; nothing retries it.
type DispatchError struct {
	RunID string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.RunID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
