// Package dispatch turns a run into an isolated worker execution.
//
// An Executor knows how to submit one worker for a JobSpec (a Kubernetes Job,
// or a local child process in development). The Dispatcher sits in front of
// it as a bulkhead: submissions run on a bounded number of goroutines with a
// per-call timeout, so a slow control plane cannot tie up request handlers.
// Each Dispatch call returns a Handle that resolves once the submission was
// accepted or rejected. There is no retry and no supervision after
// submission; the worker reports progress only through the run workspace.
package dispatch
