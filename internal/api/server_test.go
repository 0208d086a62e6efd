package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/animus-labs/loadrunner/internal/coordinator"
	"github.com/animus-labs/loadrunner/internal/dispatch"
	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/ledger"
	"github.com/animus-labs/loadrunner/internal/platform/httpserver"
	"github.com/animus-labs/loadrunner/internal/storage/objectstore"
	"github.com/animus-labs/loadrunner/internal/workspace"
)

type fakeRuns struct {
	startErr  error
	scenarios []string
	logs      map[string]string
	finished  map[string]bool
	runs      []ledger.Entry
	runsErr   error
	reportErr error
	inspect   dispatch.Observation
	lastStart string
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		scenarios: []string{"BrowseLoadTest", "CheckoutLoadTest"},
		logs:      map[string]string{"CheckoutLoadTest-1700000000000": "line 1\nline 2"},
		finished:  map[string]bool{"CheckoutLoadTest-1700000000000": true},
	}
}

func (f *fakeRuns) Start(ctx context.Context, scenario string) (coordinator.Started, error) {
	f.lastStart = scenario
	if strings.TrimSpace(scenario) == "" {
		return coordinator.Started{}, coordinator.ErrInvalidScenario
	}
	started := coordinator.Started{
		RunID:    domain.SanitizeScenario(scenario) + "-1700000000000",
		Scenario: scenario,
	}
	started.JobName = domain.JobName(started.RunID)
	if f.startErr != nil {
		var dErr *coordinator.DispatchError
		if errors.As(f.startErr, &dErr) {
			return started, f.startErr
		}
		return coordinator.Started{}, f.startErr
	}
	return started, nil
}

func (f *fakeRuns) TailLog(runID string) (string, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return "", err
	}
	if text, ok := f.logs[runID]; ok {
		return text, nil
	}
	return workspace.NoLogsPlaceholder, nil
}

func (f *fakeRuns) IsFinished(runID string) (bool, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return false, err
	}
	return f.finished[runID], nil
}

func (f *fakeRuns) Status(ctx context.Context, runID string) (coordinator.RunStatus, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return coordinator.RunStatus{}, err
	}
	if _, ok := f.logs[runID]; !ok {
		return coordinator.RunStatus{}, coordinator.ErrRunNotFound
	}
	return coordinator.RunStatus{RunID: runID, State: domain.StateTerminated, Finished: true}, nil
}

func (f *fakeRuns) ReportLink(ctx context.Context, runID string) (string, error) {
	if f.reportErr != nil {
		return "", f.reportErr
	}
	return "https://perf-reports.s3.us-east-1.amazonaws.com/" + runID + "/index.html", nil
}

func (f *fakeRuns) ListScenarios() ([]string, error) {
	return f.scenarios, nil
}

func (f *fakeRuns) ListRuns(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if f.runsErr != nil {
		return nil, f.runsErr
	}
	return f.runs, nil
}

func (f *fakeRuns) InspectJob(ctx context.Context, runID string) (dispatch.Observation, error) {
	return f.inspect, nil
}

func newTestServer(runs Runs, checks ...httpserver.ReadinessCheck) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(runs, logger, Options{Service: "loadrunner", Checks: checks}).Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	h := newTestServer(newFakeRuns())
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if rec.Header().Get(httpserver.RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	h := newTestServer(newFakeRuns(), httpserver.ReadinessCheck{
		Name:  "object_storage",
		Check: func(context.Context) error { return errors.New("bucket missing") },
	})
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(newFakeRuns())
	do(t, h, httptest.NewRequest(http.MethodGet, "/v1/scenarios", nil))
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "loadrunner_http_requests_total") {
		t.Fatalf("metrics missing request counter")
	}
}

func TestStartRun_JSON(t *testing.T) {
	runs := newFakeRuns()
	h := newTestServer(runs)
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"scenario":"CheckoutLoadTest"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, h, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s, want 202", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["run_id"] != "CheckoutLoadTest-1700000000000" {
		t.Fatalf("run_id=%v", body["run_id"])
	}
	if body["log_url"] != "/v1/runs/CheckoutLoadTest-1700000000000/log" {
		t.Fatalf("log_url=%v", body["log_url"])
	}
}

func TestStartRun_Form(t *testing.T) {
	runs := newFakeRuns()
	h := newTestServer(runs)
	form := url.Values{"scenario": {"BrowseLoadTest"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, h, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d, want 202", rec.Code)
	}
	if runs.lastStart != "BrowseLoadTest" {
		t.Fatalf("scenario=%q, want BrowseLoadTest", runs.lastStart)
	}
}

func TestStartRun_Errors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		startErr error
		want     int
		code     string
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest, code: "invalid_body"},
		{name: "empty scenario", body: `{"scenario":""}`, want: http.StatusBadRequest, code: "invalid_scenario"},
		{name: "unknown scenario", body: `{"scenario":"x"}`, startErr: coordinator.ErrUnknownScenario, want: http.StatusBadRequest, code: "unknown_scenario"},
		{
			name:     "workspace",
			body:     `{"scenario":"x"}`,
			startErr: &coordinator.WorkspaceError{RunID: "x-1", Err: errors.New("read-only file system")},
			want:     http.StatusInternalServerError,
			code:     "workspace_error",
		},
		{
			name:     "dispatch",
			body:     `{"scenario":"x"}`,
			startErr: &coordinator.DispatchError{RunID: "x-1700000000000", Err: errors.New("forbidden")},
			want:     http.StatusBadGateway,
			code:     "dispatch_failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := newFakeRuns()
			runs.startErr = tc.startErr
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := do(t, newTestServer(runs), req)
			if rec.Code != tc.want {
				t.Fatalf("status=%d body=%s, want %d", rec.Code, rec.Body.String(), tc.want)
			}
			body := decode(t, rec)
			if body["error"] != tc.code {
				t.Fatalf("error=%v, want %s", body["error"], tc.code)
			}
			if tc.code == "dispatch_failed" && body["run_id"] != "x-1700000000000" {
				t.Fatalf("dispatch failure should still carry the run id: %v", body)
			}
		})
	}
}

func TestTailLog(t *testing.T) {
	h := newTestServer(newFakeRuns())
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/CheckoutLoadTest-1700000000000/log", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type=%q", ct)
	}
	if rec.Header().Get("X-Run-Finished") != "true" {
		t.Fatalf("X-Run-Finished=%q, want true", rec.Header().Get("X-Run-Finished"))
	}
	if rec.Body.String() != "line 1\nline 2" {
		t.Fatalf("body=%q", rec.Body.String())
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/NotYet-1/log", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != workspace.NoLogsPlaceholder {
		t.Fatalf("status=%d body=%q, want placeholder", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Run-Finished") != "false" {
		t.Fatalf("X-Run-Finished=%q, want false", rec.Header().Get("X-Run-Finished"))
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/bad~id/log", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestFinished(t *testing.T) {
	h := newTestServer(newFakeRuns())
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/NotYet-1/finished", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["finished"] != false {
		t.Fatalf("finished=%v, want false", body["finished"])
	}
}

func TestGetRun(t *testing.T) {
	h := newTestServer(newFakeRuns())
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/CheckoutLoadTest-1700000000000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["state"] != "terminated" {
		t.Fatalf("state=%v", body["state"])
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/Missing-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestReport(t *testing.T) {
	runs := newFakeRuns()
	h := newTestServer(runs)
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/r-1/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["report_url"] != "https://perf-reports.s3.us-east-1.amazonaws.com/r-1/index.html" {
		t.Fatalf("report_url=%v", body["report_url"])
	}

	runs.reportErr = objectstore.ErrObjectNotFound
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/r-1/report", nil))
	if rec.Code != http.StatusNotFound || decode(t, rec)["error"] != "report_not_found" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	runs.reportErr = coordinator.ErrNoReportStore
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/r-1/report", nil))
	if rec.Code != http.StatusNotFound || decode(t, rec)["error"] != "report_storage_disabled" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListRuns(t *testing.T) {
	runs := newFakeRuns()
	runs.runs = []ledger.Entry{{RunID: "r-2"}, {RunID: "r-1"}}
	h := newTestServer(runs)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if got := decode(t, rec)["runs"].([]any); len(got) != 2 {
		t.Fatalf("runs=%v", got)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}

	runs.runsErr = coordinator.ErrLedgerDisabled
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	if rec.Code != http.StatusNotFound || decode(t, rec)["error"] != "ledger_disabled" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListScenarios(t *testing.T) {
	h := newTestServer(newFakeRuns())
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/scenarios", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	got := decode(t, rec)["scenarios"].([]any)
	if len(got) != 2 || got[1] != "CheckoutLoadTest" {
		t.Fatalf("scenarios=%v", got)
	}
}

func TestJob(t *testing.T) {
	runs := newFakeRuns()
	runs.inspect = dispatch.Observation{Status: dispatch.ObservationFailed, Message: "BackoffLimitExceeded"}
	h := newTestServer(runs)
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/runs/r-1/job", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "failed" || body["message"] != "BackoffLimitExceeded" {
		t.Fatalf("body=%v", body)
	}
}
