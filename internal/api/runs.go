package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/animus-labs/loadrunner/internal/coordinator"
	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/platform/httpserver"
	"github.com/animus-labs/loadrunner/internal/storage/objectstore"
)

const (
	runFinishedHeader = "X-Run-Finished"
	maxBodySize       = 64 << 10
)

type startRunRequest struct {
	Scenario string `json:"scenario"`
}

type startRunResponse struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	JobName  string `json:"job_name"`
	LogURL   string `json:"log_url"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	scenario, err := readScenario(w, r)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	started, err := s.runs.Start(r.Context(), scenario)
	var dispatchErr *coordinator.DispatchError
	var workspaceErr *coordinator.WorkspaceError
	switch {
	case err == nil:
		httpserver.WriteJSON(w, http.StatusAccepted, startedBody(started))
	case errors.As(err, &dispatchErr):
		body := startedBody(started)
		body.Error = "dispatch_failed"
		body.Message = dispatchErr.Err.Error()
		httpserver.WriteJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, coordinator.ErrInvalidScenario):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_scenario", err.Error())
	case errors.Is(err, coordinator.ErrUnknownScenario):
		httpserver.WriteError(w, r, http.StatusBadRequest, "unknown_scenario", err.Error())
	case errors.As(err, &workspaceErr):
		httpserver.WriteError(w, r, http.StatusInternalServerError, "workspace_error", "failed to create run workspace")
	default:
		s.logger.Error("start run", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "failed to start run")
	}
}

func startedBody(started coordinator.Started) startRunResponse {
	return startRunResponse{
		RunID:    started.RunID,
		Scenario: started.Scenario,
		JobName:  started.JobName,
		LogURL:   "/v1/runs/" + started.RunID + "/log",
	}
}

// readScenario accepts a JSON body or a form/query "scenario" value.
func readScenario(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req startRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return req.Scenario, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errors.New("invalid form body")
	}
	return r.FormValue("scenario"), nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		if errors.Is(err, coordinator.ErrLedgerDisabled) {
			httpserver.WriteError(w, r, http.StatusNotFound, "ledger_disabled", "run listing requires LEDGER_DRIVER")
			return
		}
		s.logger.Error("list runs", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	st, err := s.runs.Status(r.Context(), runID)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, st)
}

// handleTailLog answers the polling client with plain text. The completion
// flag travels in a header so one request serves both questions.
func (s *Server) handleTailLog(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	text, err := s.runs.TailLog(runID)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	finished, _ := s.runs.IsFinished(runID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(runFinishedHeader, strconv.FormatBool(finished))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleFinished(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	finished, err := s.runs.IsFinished(runID)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"run_id": runID, "finished": finished})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	link, err := s.runs.ReportLink(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrNoReportStore):
			httpserver.WriteError(w, r, http.StatusNotFound, "report_storage_disabled", "no report bucket configured")
		case errors.Is(err, objectstore.ErrObjectNotFound):
			httpserver.WriteError(w, r, http.StatusNotFound, "report_not_found", "report has not been uploaded")
		default:
			s.writeRunError(w, r, err)
		}
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"run_id": runID, "report_url": link})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.JobInspectTimeout)
	defer cancel()
	obs, err := s.runs.InspectJob(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRunID) {
			s.writeRunError(w, r, err)
			return
		}
		s.logger.Warn("inspect job", "run_id", runID, "error", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "inspect_failed", err.Error())
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, obs)
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	names, err := s.runs.ListScenarios()
	if err != nil {
		s.logger.Error("list scenarios", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "failed to list scenarios")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"scenarios": names})
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRunID):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_run_id", err.Error())
	case errors.Is(err, coordinator.ErrRunNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "run not found")
	default:
		s.logger.Error("run request", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
	}
}
