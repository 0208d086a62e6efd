package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/animus-labs/loadrunner/internal/workspace"
)

// LocalExecutor runs each worker as a child process of the coordinator. It is
// meant for development and single-host setups; the child shares nothing with
// the coordinator except the results directory. Only live workers are tracked:
// an entry is dropped as soon as its process exits, and the run's exit code is
// read from the workspace record like any other run.
type LocalExecutor struct {
	bin           string
	args          []string
	scenariosPath string
	output        io.Writer

	mu    sync.Mutex
	procs map[string]*localProc
}

type localProc struct {
	pid int
}

// NewLocalExecutor starts bin with args for every run. An empty bin means the
// current executable with the "worker" subcommand.
func NewLocalExecutor(bin string, args []string, scenariosPath string, output io.Writer) (*LocalExecutor, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		bin = self
		if len(args) == 0 {
			args = []string{WorkerMode}
		}
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("worker binary not found: %w", err)
	}
	return &LocalExecutor{
		bin:           bin,
		args:          args,
		scenariosPath: scenariosPath,
		output:        output,
		procs:         map[string]*localProc{},
	}, nil
}

func (e *LocalExecutor) Kind() string {
	return "local"
}

// Submit starts a worker unless one is already running for the run or the
// run's workspace already carries the DONE marker.
func (e *LocalExecutor) Submit(ctx context.Context, spec JobSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.procs[spec.RunID]; ok {
		return nil
	}
	if _, err := os.Stat(filepath.Join(spec.ResultsPath, workspace.DoneFile)); err == nil {
		return nil
	}

	// Not bound to ctx: the worker outlives the submission call.
	cmd := exec.Command(e.bin, e.args...)
	cmd.Env = append(os.Environ(), spec.Env(e.scenariosPath)...)
	cmd.Stdout = e.output
	cmd.Stderr = e.output
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start local worker: %w", err)
	}
	e.procs[spec.RunID] = &localProc{pid: cmd.Process.Pid}
	go func() {
		_ = cmd.Wait()
		e.mu.Lock()
		delete(e.procs, spec.RunID)
		e.mu.Unlock()
	}()
	return nil
}

func (e *LocalExecutor) Inspect(ctx context.Context, runID string) (Observation, error) {
	e.mu.Lock()
	p, ok := e.procs[runID]
	e.mu.Unlock()
	if !ok {
		return Observation{Status: ObservationUnknown, Message: "no_live_worker"}, nil
	}
	return Observation{Status: ObservationRunning, Details: map[string]any{"pid": p.pid}}, nil
}
