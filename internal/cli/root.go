// Package cli wires the loadrunner binary. The same binary serves the
// coordinator API and, inside each Job, runs the worker.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/loadrunner/internal/dispatch"
)

var version = "0.1.0"

// Exit codes follow the services: 2 for invalid configuration, 1 for
// runtime failures. The worker exits with the engine's code.
const (
	exitRuntime = 1
	exitConfig  = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func configError(err error) error {
	return &exitError{code: exitConfig, err: err}
}

func runtimeError(err error) error {
	return &exitError{code: exitRuntime, err: err}
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "loadrunner",
		Short:   "Dispatch load-test runs to isolated workers and track them",
		Version: version,
		Long: `loadrunner starts Gatling-style load tests as one Kubernetes Job per run.
The coordinator creates a workspace per run and serves its log and completion
state; the worker runs the engine, streams its output into the workspace and
uploads the results to object storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newRenderJobCmd())
	root.AddCommand(newWaitCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
// MODE=worker without arguments selects the worker, as set in the Job env.
func Execute(args []string, stderr io.Writer) int {
	if len(args) == 0 && strings.EqualFold(strings.TrimSpace(os.Getenv(dispatch.EnvMode)), dispatch.WorkerMode) {
		args = []string{dispatch.WorkerMode}
	}
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, err)
	return exitRuntime
}
