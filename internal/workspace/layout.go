// Package workspace owns the on-disk contract shared by the coordinator and a
// run's worker.
//
// Each run has one directory under the results root named after its run id:
//
//	<root>/<runID>/metadata.txt  written once by the coordinator at start
//	<root>/<runID>/run.log       appended by the worker only
//	<root>/<runID>/status.json   state record, replaced atomically by the worker
//	<root>/<runID>/DONE          empty marker; present once the engine exited
//
// The coordinator only reads after creating the directory, so no locking is
// needed: there is one writer per run and readers tolerate partial writes.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/loadrunner/internal/domain"
)

const (
	LogFile      = "run.log"
	DoneFile     = "DONE"
	MetadataFile = "metadata.txt"
	StatusFile   = "status.json"
)

var ErrExists = errors.New("workspace already exists")

type Metadata struct {
	Scenario  string
	StartedAt time.Time
}

// Layout resolves run directories under Root.
type Layout struct {
	Root string
}

func (l Layout) Dir(runID string) (string, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return "", err
	}
	if strings.TrimSpace(l.Root) == "" {
		return "", errors.New("workspace root is required")
	}
	return filepath.Join(l.Root, runID), nil
}

// EnsureRoot creates the results root if needed.
func (l Layout) EnsureRoot() error {
	if strings.TrimSpace(l.Root) == "" {
		return errors.New("workspace root is required")
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("create results root: %w", err)
	}
	return nil
}

// Create makes the run directory exclusively and writes metadata.txt.
// It returns ErrExists when the directory is already present.
func (l Layout) Create(runID string, meta Metadata) (string, error) {
	dir, err := l.Dir(runID)
	if err != nil {
		return "", err
	}
	if err := l.EnsureRoot(); err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", ErrExists
		}
		return "", fmt.Errorf("create run dir: %w", err)
	}
	startedAt := meta.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	body := "scenario=" + meta.Scenario + "\nstartedAt=" + startedAt.UTC().Format(time.RFC3339Nano)
	if err := writeFile(filepath.Join(dir, MetadataFile), []byte(body), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return dir, nil
}

// ReadMetadata parses metadata.txt. Unknown keys are ignored.
func (l Layout) ReadMetadata(runID string) (Metadata, error) {
	dir, err := l.Dir(runID)
	if err != nil {
		return Metadata{}, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	for _, line := range strings.Split(string(raw), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "scenario":
			meta.Scenario = value
		case "startedAt":
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				meta.StartedAt = ts
			}
		}
	}
	return meta, nil
}

// Exists reports whether the run directory is present.
func (l Layout) Exists(runID string) bool {
	dir, err := l.Dir(runID)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// IsFinished re-checks the DONE marker on every call.
func (l Layout) IsFinished(runID string) bool {
	dir, err := l.Dir(runID)
	if err != nil {
		return false
	}
	return fileExists(filepath.Join(dir, DoneFile))
}

// AwaitFinished checks IsFinished every interval until the run is done or ctx
// ends.
func (l Layout) AwaitFinished(ctx context.Context, runID string, interval time.Duration) error {
	if _, err := l.Dir(runID); err != nil {
		return err
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if l.IsFinished(runID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// State derives pending/running/terminated from the files present.
func (l Layout) State(runID string) domain.State {
	dir, err := l.Dir(runID)
	if err != nil {
		return domain.StatePending
	}
	if fileExists(filepath.Join(dir, DoneFile)) {
		return domain.StateTerminated
	}
	if fileExists(filepath.Join(dir, LogFile)) {
		return domain.StateRunning
	}
	return domain.StatePending
}

var writeFile = os.WriteFile

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
