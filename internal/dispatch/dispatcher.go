package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/platform/env"
)

var (
	ErrSaturated = errors.New("dispatcher queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

type Config struct {
	// Concurrency bounds simultaneous calls into the executor.
	Concurrency int
	// QueueSize bounds submissions waiting for a free slot.
	QueueSize     int
	SubmitTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	concurrency, err := env.Int("DISPATCH_CONCURRENCY", 4)
	if err != nil {
		return Config{}, err
	}
	queue, err := env.Int("DISPATCH_QUEUE", 64)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("DISPATCH_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Concurrency: concurrency, QueueSize: queue, SubmitTimeout: timeout}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("DISPATCH_CONCURRENCY must be >= 1")
	}
	if c.QueueSize < 0 {
		return errors.New("DISPATCH_QUEUE must be >= 0")
	}
	if c.SubmitTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be positive")
	}
	return nil
}

// Handle tracks one submission. It resolves exactly once.
type Handle struct {
	RunID   string
	JobName string

	done chan struct{}
	once sync.Once
	err  error
}

func newHandle(runID string) *Handle {
	return &Handle{RunID: runID, JobName: domain.JobName(runID), done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed once the submission was accepted or failed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the submission error after Done is closed, nil before.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the submission resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher submits workers on a bounded pool, off the caller's goroutine.
type Dispatcher struct {
	exec   Executor
	cfg    Config
	logger *slog.Logger

	sem     *semaphore.Weighted
	pending atomic.Int64
	closed  atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(exec Executor, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Dispatch queues spec for submission and returns immediately.
func (d *Dispatcher) Dispatch(spec JobSpec) *Handle {
	h := newHandle(spec.RunID)
	kind := d.exec.Kind()

	if d.closed.Load() {
		h.finish(ErrClosed)
		return h
	}
	if err := spec.Validate(); err != nil {
		submissionsTotal.WithLabelValues(kind, resultFailed).Inc()
		h.finish(err)
		return h
	}
	limit := int64(d.cfg.Concurrency + d.cfg.QueueSize)
	if d.pending.Add(1) > limit {
		d.pending.Add(-1)
		submissionsTotal.WithLabelValues(kind, resultSaturated).Inc()
		h.finish(ErrSaturated)
		return h
	}
	submissionsQueued.Inc()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.pending.Add(-1)
			submissionsQueued.Dec()
		}()

		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			h.finish(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		defer d.sem.Release(1)

		h.finish(d.submit(kind, spec))
	}()
	return h
}

func (d *Dispatcher) submit(kind string, spec JobSpec) error {
	submissionsInFlight.Inc()
	defer submissionsInFlight.Dec()

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	err := d.exec.Submit(ctx, spec)
	submissionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		submissionsTotal.WithLabelValues(kind, resultFailed).Inc()
		d.logger.Error("worker submission failed", "executor", kind, "run_id", spec.RunID, "error", err)
		return err
	}
	submissionsTotal.WithLabelValues(kind, resultSubmitted).Inc()
	d.logger.Info("worker submitted", "executor", kind, "run_id", spec.RunID, "job", domain.JobName(spec.RunID))
	return nil
}

// Close stops accepting work and waits for queued submissions. If ctx ends
// first, outstanding submissions are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closed.Store(true)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
