package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/loadrunner/internal/catalog"
	"github.com/animus-labs/loadrunner/internal/dispatch"
	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/ledger"
	"github.com/animus-labs/loadrunner/internal/workspace"
)

var fixedNow = time.UnixMilli(1700000000000)

type fakeExecutor struct {
	mu    sync.Mutex
	specs []dispatch.JobSpec
	err   error
	// onSubmit runs in the background after a successful submission.
	onSubmit func(spec dispatch.JobSpec)
}

func (f *fakeExecutor) Kind() string { return "fake" }

func (f *fakeExecutor) Submit(ctx context.Context, spec dispatch.JobSpec) error {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.onSubmit != nil {
		go f.onSubmit(spec)
	}
	return nil
}

func (f *fakeExecutor) Inspect(ctx context.Context, runID string) (dispatch.Observation, error) {
	return dispatch.Observation{Status: dispatch.ObservationRunning, Details: map[string]any{"run_id": runID}}, nil
}

func (f *fakeExecutor) submitted() []dispatch.JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.JobSpec(nil), f.specs...)
}

type fakeReports struct {
	presignErr error
}

func (f *fakeReports) ReportURL(runID string) string {
	return "https://perf-reports.s3.us-east-1.amazonaws.com/" + runID + "/index.html"
}

func (f *fakeReports) PresignReport(ctx context.Context, runID string, ttl time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return fmt.Sprintf("https://signed.example/%s/index.html?ttl=%s", runID, ttl), nil
}

type harness struct {
	svc    *Service
	exec   *fakeExecutor
	ledger *ledger.SQLStore
	root   string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	root := t.TempDir()
	exec := &fakeExecutor{}

	d, err := dispatch.New(exec, dispatch.Config{Concurrency: 2, QueueSize: 8, SubmitTimeout: time.Second}, discardLogger())
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	db, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store, err := ledger.NewSQLStore(db, ledger.DialectSQLite)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := Config{
		ResultsPath:       filepath.Join(root, "results"),
		WorkerResultsPath: "/var/gatling/results",
		ScenariosPath:     filepath.Join(root, "scenarios"),
		Bucket:            "perf-reports",
		Region:            "us-east-1",
	}
	deps := Deps{
		Dispatcher: d,
		Inspector:  exec,
		Ledger:     store,
		Reports:    &fakeReports{},
		Logger:     discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	svc, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.now = func() time.Time { return fixedNow }
	t.Cleanup(svc.Wait)
	return &harness{svc: svc, exec: exec, ledger: store, root: root}
}

func waitDispatch(t *testing.T, started Started) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := started.Handle.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("dispatch of %s did not resolve", started.RunID)
	}
	return err
}

func TestStart_CreatesWorkspaceAndDispatches(t *testing.T) {
	h := newHarness(t, nil)
	started, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if started.RunID != "CheckoutLoadTest-1700000000000" {
		t.Fatalf("RunID=%q", started.RunID)
	}
	if started.JobName != "gatling-run-checkoutloadtest-1700000000000-c1af0669" {
		t.Fatalf("JobName=%q", started.JobName)
	}

	finished, err := h.svc.IsFinished(started.RunID)
	if err != nil || finished {
		t.Fatalf("IsFinished()=%v,%v, want false", finished, err)
	}

	layout := workspace.Layout{Root: filepath.Join(h.root, "results")}
	meta, err := layout.ReadMetadata(started.RunID)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Scenario != "CheckoutLoadTest" || !meta.StartedAt.Equal(fixedNow) {
		t.Fatalf("metadata=%+v", meta)
	}

	if err := waitDispatch(t, started); err != nil {
		t.Fatalf("dispatch err=%v", err)
	}
	specs := h.exec.submitted()
	if len(specs) != 1 {
		t.Fatalf("submitted=%d, want 1", len(specs))
	}
	want := dispatch.JobSpec{
		RunID:       "CheckoutLoadTest-1700000000000",
		Scenario:    "CheckoutLoadTest",
		ResultsPath: "/var/gatling/results/CheckoutLoadTest-1700000000000",
		Bucket:      "perf-reports",
		Region:      "us-east-1",
	}
	if specs[0] != want {
		t.Fatalf("spec=%+v, want %+v", specs[0], want)
	}

	h.svc.Wait()
	entry, err := h.ledger.Get(context.Background(), started.RunID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if entry.DispatchStatus != ledger.DispatchSubmitted {
		t.Fatalf("DispatchStatus=%q, want submitted", entry.DispatchStatus)
	}
}

func TestStart_SameMillisecondGetsNextID(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	second, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if first.RunID == second.RunID {
		t.Fatalf("duplicate run id %q", first.RunID)
	}
	if second.RunID != "CheckoutLoadTest-1700000000001" {
		t.Fatalf("second RunID=%q", second.RunID)
	}
}

func TestStart_SanitizesScenario(t *testing.T) {
	h := newHarness(t, nil)
	started, err := h.svc.Start(context.Background(), "checkout/../load test")
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if started.RunID != "checkout-..-load-test-1700000000000" {
		t.Fatalf("RunID=%q", started.RunID)
	}
	if err := domain.ValidateRunID(started.RunID); err != nil {
		t.Fatalf("run id not safe: %v", err)
	}
	if err := waitDispatch(t, started); err != nil {
		t.Fatalf("dispatch err=%v", err)
	}
	if got := h.exec.submitted()[0].Scenario; got != "checkout/../load test" {
		t.Fatalf("scenario=%q, want the original name", got)
	}
}

func TestStart_InvalidScenario(t *testing.T) {
	h := newHarness(t, nil)
	for _, scenario := range []string{"", "   ", strings.Repeat("a", 200)} {
		if _, err := h.svc.Start(context.Background(), scenario); !errors.Is(err, ErrInvalidScenario) {
			t.Fatalf("Start(%q) err=%v, want ErrInvalidScenario", scenario, err)
		}
	}
	if n := len(h.exec.submitted()); n != 0 {
		t.Fatalf("submitted=%d, want 0", n)
	}
}

func TestStart_RequireKnownScenario(t *testing.T) {
	scenarios := t.TempDir()
	if err := os.WriteFile(filepath.Join(scenarios, "CheckoutLoadTest.scala"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	h := newHarness(t, func(cfg *Config, deps *Deps) {
		cfg.RequireKnownScenario = true
		deps.Catalog = catalog.New(scenarios)
	})

	if _, err := h.svc.Start(context.Background(), "Unknown"); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("Start(Unknown) err=%v, want ErrUnknownScenario", err)
	}
	if _, err := h.svc.Start(context.Background(), "CheckoutLoadTest"); err != nil {
		t.Fatalf("Start(CheckoutLoadTest) err=%v", err)
	}
}

func TestStart_WorkspaceError(t *testing.T) {
	h := newHarness(t, nil)
	results := filepath.Join(h.root, "results")
	if err := os.RemoveAll(results); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := os.WriteFile(results, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	var wsErr *WorkspaceError
	if !errors.As(err, &wsErr) {
		t.Fatalf("Start() err=%v, want *WorkspaceError", err)
	}
	if n := len(h.exec.submitted()); n != 0 {
		t.Fatalf("submitted=%d, want 0", n)
	}
}

func TestStart_DispatchErrorLeavesRunPending(t *testing.T) {
	h := newHarness(t, func(cfg *Config, deps *Deps) {
		cfg.DispatchWait = 2 * time.Second
	})
	h.exec.err = errors.New("jobs.batch is forbidden")

	started, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	var dErr *DispatchError
	if !errors.As(err, &dErr) {
		t.Fatalf("Start() err=%v, want *DispatchError", err)
	}
	if started.RunID == "" || dErr.RunID != started.RunID {
		t.Fatalf("started=%+v, dispatch error run=%q", started, dErr.RunID)
	}

	st, err := h.svc.Status(context.Background(), started.RunID)
	if err != nil {
		t.Fatalf("Status() err=%v", err)
	}
	if st.State != domain.StatePending || st.Finished {
		t.Fatalf("status=%+v, want pending", st)
	}

	h.svc.Wait()
	entry, _ := h.ledger.Get(context.Background(), started.RunID)
	if entry.DispatchStatus != ledger.DispatchFailed || !strings.Contains(entry.DispatchError, "forbidden") {
		t.Fatalf("ledger entry=%+v", entry)
	}
}

func TestStart_DispatchErrorWithoutWaitIsAsync(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.err = errors.New("control plane unavailable")

	started, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	if err != nil {
		t.Fatalf("Start() err=%v, want nil without a dispatch wait", err)
	}
	if err := waitDispatch(t, started); err == nil {
		t.Fatalf("handle should carry the dispatch error")
	}
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	layout := workspace.Layout{Root: filepath.Join(h.root, "results")}

	release := make(chan struct{})
	h.exec.onSubmit = func(spec dispatch.JobSpec) {
		dir, _ := layout.Dir(spec.RunID)
		f, err := workspace.OpenLog(dir)
		if err != nil {
			return
		}
		fmt.Fprintln(f, "Simulation CheckoutLoadTest started")
		<-release
		fmt.Fprintln(f, "Simulation CheckoutLoadTest completed")
		f.Close()
		_ = workspace.MarkDone(dir)
	}

	started, err := h.svc.Start(context.Background(), "CheckoutLoadTest")
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if started.RunID != "CheckoutLoadTest-1700000000000" {
		t.Fatalf("RunID=%q", started.RunID)
	}
	if finished, _ := h.svc.IsFinished(started.RunID); finished {
		t.Fatalf("IsFinished()=true right after Start")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := layout.AwaitFinished(ctx, started.RunID, 10*time.Millisecond); err != nil {
		t.Fatalf("AwaitFinished() err=%v", err)
	}

	finished, err := h.svc.IsFinished(started.RunID)
	if err != nil || !finished {
		t.Fatalf("IsFinished()=%v,%v, want true", finished, err)
	}
	log, err := h.svc.TailLog(started.RunID)
	if err != nil {
		t.Fatalf("TailLog() err=%v", err)
	}
	want := "Simulation CheckoutLoadTest started\nSimulation CheckoutLoadTest completed"
	if log != want {
		t.Fatalf("TailLog()=%q, want %q", log, want)
	}

	st, err := h.svc.Status(context.Background(), started.RunID)
	if err != nil {
		t.Fatalf("Status() err=%v", err)
	}
	if st.State != domain.StateTerminated || !st.Finished {
		t.Fatalf("status=%+v, want terminated", st)
	}
	if st.ReportURL != "https://perf-reports.s3.us-east-1.amazonaws.com/CheckoutLoadTest-1700000000000/index.html" {
		t.Fatalf("ReportURL=%q", st.ReportURL)
	}
}

func TestTailLog(t *testing.T) {
	h := newHarness(t, nil)
	got, err := h.svc.TailLog("NeverStarted-1")
	if err != nil {
		t.Fatalf("TailLog() err=%v", err)
	}
	if got != workspace.NoLogsPlaceholder {
		t.Fatalf("TailLog()=%q, want placeholder", got)
	}
	if _, err := h.svc.TailLog("../etc"); !errors.Is(err, domain.ErrInvalidRunID) {
		t.Fatalf("TailLog(../etc) err=%v, want ErrInvalidRunID", err)
	}
}

func TestStatus_NotFound(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.svc.Status(context.Background(), "missing-1"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Status() err=%v, want ErrRunNotFound", err)
	}
}

func TestReportLink(t *testing.T) {
	h := newHarness(t, nil)
	link, err := h.svc.ReportLink(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("ReportLink() err=%v", err)
	}
	if link != "https://perf-reports.s3.us-east-1.amazonaws.com/r-1/index.html" {
		t.Fatalf("ReportLink()=%q", link)
	}

	presigned := newHarness(t, func(cfg *Config, deps *Deps) {
		cfg.ReportPresign = true
		cfg.ReportPresignTTL = 15 * time.Minute
	})
	link, err = presigned.svc.ReportLink(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("ReportLink() err=%v", err)
	}
	if link != "https://signed.example/r-1/index.html?ttl=15m0s" {
		t.Fatalf("ReportLink()=%q", link)
	}

	none := newHarness(t, func(cfg *Config, deps *Deps) {
		deps.Reports = nil
	})
	if _, err := none.svc.ReportLink(context.Background(), "r-1"); !errors.Is(err, ErrNoReportStore) {
		t.Fatalf("ReportLink() err=%v, want ErrNoReportStore", err)
	}
}

func TestListRuns(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		if _, err := h.svc.Start(context.Background(), "CheckoutLoadTest"); err != nil {
			t.Fatalf("Start() err=%v", err)
		}
	}
	h.svc.Wait()
	runs, err := h.svc.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() err=%v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns()=%d entries, want 3", len(runs))
	}

	disabled := newHarness(t, func(cfg *Config, deps *Deps) {
		deps.Ledger = nil
	})
	if _, err := disabled.svc.ListRuns(context.Background(), 10); !errors.Is(err, ErrLedgerDisabled) {
		t.Fatalf("ListRuns() err=%v, want ErrLedgerDisabled", err)
	}
}

func TestInspectJob(t *testing.T) {
	h := newHarness(t, nil)
	obs, err := h.svc.InspectJob(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("InspectJob() err=%v", err)
	}
	if obs.Status != dispatch.ObservationRunning {
		t.Fatalf("Status=%q, want running", obs.Status)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ResultsPath: "/r", WorkerResultsPath: "/r", ReportPresign: true, ReportPresignTTL: time.Minute}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for presign without bucket")
	}
	cfg.Bucket = "b"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	cfg.DispatchWait = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative dispatch wait")
	}
}
