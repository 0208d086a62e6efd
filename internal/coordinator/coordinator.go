// Package coordinator implements the always-on side of a run: it issues run
// ids, creates workspaces, hands runs to the dispatcher and answers status
// queries by reading the workspace. It keeps no per-run state in memory.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/loadrunner/internal/catalog"
	"github.com/animus-labs/loadrunner/internal/dispatch"
	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/ledger"
	"github.com/animus-labs/loadrunner/internal/workspace"
)

const (
	maxScenarioLen = 128
	// maxIDAttempts bounds the search for a free run id when several runs
	// of one scenario are issued within the same millisecond.
	maxIDAttempts = 1000
	ledgerTimeout = 5 * time.Second
)

type Dispatcher interface {
	Dispatch(spec dispatch.JobSpec) *dispatch.Handle
}

type JobInspector interface {
	Inspect(ctx context.Context, runID string) (dispatch.Observation, error)
}

type ReportLinker interface {
	ReportURL(runID string) string
	PresignReport(ctx context.Context, runID string, ttl time.Duration) (string, error)
}

// Deps are the collaborators of a Service. Ledger, Reports and Inspector
// are optional.
type Deps struct {
	Dispatcher Dispatcher
	Inspector  JobInspector
	Catalog    *catalog.Catalog
	Ledger     ledger.Store
	Reports    ReportLinker
	Logger     *slog.Logger
}

type Service struct {
	cfg        Config
	layout     workspace.Layout
	dispatcher Dispatcher
	inspector  JobInspector
	catalog    *catalog.Catalog
	ledger     ledger.Store
	reports    ReportLinker
	logger     *slog.Logger
	now        func() time.Time

	watchers sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.New(cfg.ScenariosPath)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	layout := workspace.Layout{Root: cfg.ResultsPath}
	if err := layout.EnsureRoot(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:        cfg,
		layout:     layout,
		dispatcher: deps.Dispatcher,
		inspector:  deps.Inspector,
		catalog:    deps.Catalog,
		ledger:     deps.Ledger,
		reports:    deps.Reports,
		logger:     deps.Logger,
		now:        time.Now,
	}, nil
}

type Started struct {
	RunID    string           `json:"run_id"`
	Scenario string           `json:"scenario"`
	JobName  string           `json:"job_name"`
	Handle   *dispatch.Handle `json:"-"`
}

// Start creates the run workspace and queues the worker. It returns once the
// workspace exists; the worker is submitted in the background.
//
// A *WorkspaceError aborts the run. A *DispatchError is only returned when
// DispatchWait is set and the submission was rejected within that window;
// Started is valid in that case and the run stays pending.
func (s *Service) Start(ctx context.Context, scenario string) (Started, error) {
	scenario = strings.TrimSpace(scenario)
	if err := s.checkScenario(scenario); err != nil {
		runsStarted.WithLabelValues(startInvalid).Inc()
		return Started{}, err
	}

	issuedAt := s.now()
	runID, err := s.createWorkspace(scenario, issuedAt)
	if err != nil {
		runsStarted.WithLabelValues(startWorkspaceError).Inc()
		s.logger.Error("workspace creation failed", "scenario", scenario, "error", err)
		return Started{}, err
	}
	runsStarted.WithLabelValues(startAccepted).Inc()

	jobName := domain.JobName(runID)
	s.recordCreated(ctx, runID, scenario, jobName, issuedAt)

	handle := s.dispatcher.Dispatch(dispatch.JobSpec{
		RunID:       runID,
		Scenario:    scenario,
		ResultsPath: path.Join(s.cfg.WorkerResultsPath, runID),
		Bucket:      s.cfg.Bucket,
		Region:      s.cfg.Region,
	})
	s.watchers.Add(1)
	go s.watch(handle)

	s.logger.Info("run started", "run_id", runID, "scenario", scenario, "job", jobName)
	started := Started{RunID: runID, Scenario: scenario, JobName: jobName, Handle: handle}

	if s.cfg.DispatchWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchWait)
		defer cancel()
		select {
		case <-handle.Done():
			if err := handle.Err(); err != nil {
				return started, &DispatchError{RunID: runID, Err: err}
			}
		case <-waitCtx.Done():
		}
	}
	return started, nil
}

func (s *Service) checkScenario(scenario string) error {
	if scenario == "" {
		return fmt.Errorf("%w: scenario is required", ErrInvalidScenario)
	}
	if len(scenario) > maxScenarioLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidScenario, maxScenarioLen)
	}
	if !s.cfg.RequireKnownScenario {
		return nil
	}
	ok, err := s.catalog.Has(scenario)
	if err != nil {
		return fmt.Errorf("check scenario: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScenario, scenario)
	}
	return nil
}

// createWorkspace claims the first free run id at or after issuedAt, moving
// forward one millisecond per collision.
func (s *Service) createWorkspace(scenario string, issuedAt time.Time) (string, error) {
	meta := workspace.Metadata{Scenario: scenario, StartedAt: issuedAt}
	var runID string
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		runID = domain.NewRunID(scenario, issuedAt.Add(time.Duration(attempt)*time.Millisecond))
		_, err := s.layout.Create(runID, meta)
		if err == nil {
			return runID, nil
		}
		if !errors.Is(err, workspace.ErrExists) {
			return "", &WorkspaceError{RunID: runID, Err: err}
		}
		runIDCollisions.Inc()
	}
	return "", &WorkspaceError{RunID: runID, Err: fmt.Errorf("no free run id after %d attempts: %w", maxIDAttempts, workspace.ErrExists)}
}

func (s *Service) recordCreated(ctx context.Context, runID, scenario, jobName string, at time.Time) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	err := s.ledger.Create(ctx, ledger.Entry{
		RunID:          runID,
		Scenario:       scenario,
		JobName:        jobName,
		DispatchStatus: ledger.DispatchQueued,
		CreatedAt:      at,
	})
	if err != nil {
		s.logger.Warn("ledger create failed", "run_id", runID, "error", err)
	}
}

// watch records the outcome of a submission. A rejected run is left pending.
func (s *Service) watch(h *dispatch.Handle) {
	defer s.watchers.Done()
	<-h.Done()

	err := h.Err()
	if err != nil {
		runsDispatched.WithLabelValues("failed").Inc()
		s.logger.Error("dispatch failed, run stays pending", "run_id", h.RunID, "job", h.JobName, "error", err)
	} else {
		runsDispatched.WithLabelValues("submitted").Inc()
	}
	if s.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	at := s.now()
	if err != nil {
		err = s.ledger.MarkFailed(ctx, h.RunID, err.Error(), at)
	} else {
		err = s.ledger.MarkSubmitted(ctx, h.RunID, at)
	}
	if err != nil {
		s.logger.Warn("ledger update failed", "run_id", h.RunID, "error", err)
	}
}

// Wait blocks until every submission observed so far has been recorded.
func (s *Service) Wait() {
	s.watchers.Wait()
}

// TailLog returns the last lines of the run log, or a placeholder when
// nothing was logged yet. It only fails for malformed run ids.
func (s *Service) TailLog(runID string) (string, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return "", err
	}
	return s.layout.TailLog(runID), nil
}

// IsFinished re-checks the DONE marker on every call.
func (s *Service) IsFinished(runID string) (bool, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return false, err
	}
	return s.layout.IsFinished(runID), nil
}

type RunStatus struct {
	RunID     string            `json:"run_id"`
	Scenario  string            `json:"scenario,omitempty"`
	State     domain.State      `json:"state"`
	Finished  bool              `json:"finished"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Record    *domain.RunRecord `json:"record,omitempty"`
	Dispatch  *ledger.Entry     `json:"dispatch,omitempty"`
	ReportURL string            `json:"report_url,omitempty"`
}

// Status assembles everything known about a run. The state is derived from
// the workspace; the record and ledger entry are attached when present.
func (s *Service) Status(ctx context.Context, runID string) (RunStatus, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return RunStatus{}, err
	}
	if !s.layout.Exists(runID) {
		return RunStatus{}, ErrRunNotFound
	}

	st := RunStatus{RunID: runID, State: s.layout.State(runID)}
	st.Finished = st.State == domain.StateTerminated

	if meta, err := s.layout.ReadMetadata(runID); err == nil {
		st.Scenario = meta.Scenario
		if !meta.StartedAt.IsZero() {
			startedAt := meta.StartedAt
			st.StartedAt = &startedAt
		}
	}
	if record, err := s.layout.ReadRecord(runID); err == nil {
		st.Record = &record
		if st.Scenario == "" {
			st.Scenario = record.Scenario
		}
	}
	if s.ledger != nil {
		if entry, err := s.ledger.Get(ctx, runID); err == nil {
			st.Dispatch = &entry
		} else if !errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("ledger lookup failed", "run_id", runID, "error", err)
		}
	}
	if st.Finished && s.reports != nil {
		if link, err := s.ReportLink(ctx, runID); err == nil {
			st.ReportURL = link
		}
	}
	return st, nil
}

// ReportLink returns the report location for a run. By default the link is
// derived from the run id without checking storage; with presigning enabled
// the report must exist and the link expires.
func (s *Service) ReportLink(ctx context.Context, runID string) (string, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return "", err
	}
	if s.reports == nil {
		return "", ErrNoReportStore
	}
	if s.cfg.ReportPresign {
		return s.reports.PresignReport(ctx, runID, s.cfg.ReportPresignTTL)
	}
	return s.reports.ReportURL(runID), nil
}

func (s *Service) ListScenarios() ([]string, error) {
	return s.catalog.List()
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if s.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return s.ledger.List(ctx, limit)
}

// InspectJob asks the execution platform about the run's worker. The answer
// is informational; completion is still decided by IsFinished.
func (s *Service) InspectJob(ctx context.Context, runID string) (dispatch.Observation, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return dispatch.Observation{}, err
	}
	if s.inspector == nil {
		return dispatch.Observation{Status: dispatch.ObservationUnknown, Message: "no_inspector"}, nil
	}
	return s.inspector.Inspect(ctx, runID)
}
