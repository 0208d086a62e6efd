// Package worker runs one load-test engine execution for a single run and
// reports its outcome through the run workspace.
//
// The lifecycle is STARTING, RUNNING, TERMINATED and optionally UPLOADED.
// The DONE marker is written once the engine exits, whatever its exit code,
// and is never removed afterwards, not even when the upload fails.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/workspace"
)

const (
	// ExitStartFailure is reported when the engine binary cannot be found.
	ExitStartFailure = 127

	engineStopGrace = 10 * time.Second
)

type Worker struct {
	cfg      Config
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a worker. uploader may be nil when cfg has no bucket.
func New(cfg Config, uploader Uploader, logger *slog.Logger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UploadEnabled() && uploader == nil {
		return nil, errors.New("uploader is required when a bucket is configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, uploader: uploader, logger: logger, now: time.Now}, nil
}

// Run executes the engine and returns the exit code the process should exit
// with. Cancelling ctx sends SIGTERM to the engine.
func (w *Worker) Run(ctx context.Context) int {
	logger := w.logger.With("run_id", w.cfg.RunID, "scenario", w.cfg.Scenario)

	// STARTING
	if err := os.MkdirAll(w.cfg.ResultsPath, 0o755); err != nil {
		logger.Error("create results dir", "path", w.cfg.ResultsPath, "error", err)
		return 1
	}
	logFile, err := workspace.OpenLog(w.cfg.ResultsPath)
	if err != nil {
		logger.Error("open run log", "error", err)
		return 1
	}
	defer logFile.Close()

	record := domain.RunRecord{
		RunID:     w.cfg.RunID,
		Scenario:  w.cfg.Scenario,
		State:     domain.StateRunning,
		StartedAt: w.now().UTC(),
	}
	w.writeRecord(logger, record)

	// RUNNING
	logger.Info("engine starting", "bin", w.cfg.EngineBin)
	code := w.runEngine(ctx, logger, logFile)

	// TERMINATED
	finishedAt := w.now().UTC()
	record.State = domain.StateTerminated
	record.ExitCode = &code
	record.FinishedAt = &finishedAt
	w.writeRecord(logger, record)
	if err := workspace.MarkDone(w.cfg.ResultsPath); err != nil {
		logger.Error("write done marker", "error", err)
	}
	logger.Info("engine finished", "exit_code", code, "duration_ms", finishedAt.Sub(record.StartedAt).Milliseconds())

	// UPLOADED
	if w.cfg.UploadEnabled() {
		res := UploadDir(ctx, w.uploader, w.cfg.RunID, w.cfg.ResultsPath, w.cfg.UploadConcurrency)
		upload := &domain.UploadRecord{
			Bucket:      w.cfg.Bucket,
			Prefix:      w.cfg.RunID + "/",
			Uploaded:    res.Uploaded,
			Failed:      res.Failed,
			CompletedAt: w.now().UTC(),
		}
		if res.Err != nil {
			upload.Error = res.Err.Error()
			fmt.Fprintf(logFile, "upload failed: %v\n", res.Err)
			logger.Error("upload failed", "bucket", w.cfg.Bucket, "uploaded", res.Uploaded, "failed", res.Failed, "error", res.Err)
		} else {
			logger.Info("upload complete", "bucket", w.cfg.Bucket, "uploaded", res.Uploaded)
		}
		record.Upload = upload
		w.writeRecord(logger, record)
	}
	return code
}

func (w *Worker) runEngine(ctx context.Context, logger *slog.Logger, out io.Writer) int {
	cmd := exec.CommandContext(ctx, w.cfg.EngineBin, w.cfg.Argv()...)
	cmd.Dir = w.cfg.ResultsPath
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = engineStopGrace

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(out, "engine failed to start: %v\n", err)
		logger.Error("engine failed to start", "error", err)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return ExitStartFailure
		}
		return 1
	}

	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
		// Killed by a signal.
		fmt.Fprintf(out, "engine terminated: %v\n", exitErr)
		return 1
	}
	fmt.Fprintf(out, "engine wait failed: %v\n", err)
	logger.Error("engine wait failed", "error", err)
	return 1
}

func (w *Worker) writeRecord(logger *slog.Logger, record domain.RunRecord) {
	if err := workspace.WriteRecord(w.cfg.ResultsPath, record); err != nil {
		logger.Warn("write run record", "error", err)
	}
}
