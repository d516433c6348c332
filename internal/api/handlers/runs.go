package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/anstrom/netscope/internal/api/middleware"
	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
)

// RunFactory builds the work behind each run kind. *runs.Runner satisfies it.
type RunFactory interface {
	Diagnostics() runs.Func
	Discovery(rangeSpec string) runs.Func
	Services(rangeSpec string) runs.Func
}

// RunHandler starts, lists, inspects and cancels background runs.
type RunHandler struct {
	manager        *runs.Manager
	factory        RunFactory
	maxCandidates  int
	maxRequestSize int64
	logger         *slog.Logger
}

// NewRunHandler creates a run handler. maxCandidates bounds range requests
// before a run is started.
func NewRunHandler(manager *runs.Manager, factory RunFactory, maxCandidates int,
	maxRequestSize int64, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		manager:        manager,
		factory:        factory,
		maxCandidates:  maxCandidates,
		maxRequestSize: maxRequestSize,
		logger:         logger.With("handler", "runs"),
	}
}

// RangeRequest is the optional body of discovery and scan requests. An
// empty range means the configured or auto-detected one.
type RangeRequest struct {
	Range string `json:"range" validate:"omitempty,max=4096"`
}

// StartedResponse acknowledges a new run.
type StartedResponse struct {
	ID     uuid.UUID   `json:"id"`
	Kind   runs.Kind   `json:"kind"`
	Status runs.Status `json:"status"`
}

// ListRunsResponse lists retained runs, oldest first.
type ListRunsResponse struct {
	Runs  []runs.Summary `json:"runs"`
	Count int            `json:"count"`
}

// EventsResponse is one page of a run's event log. Next is the from value
// for the following request.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
	Done   bool           `json:"done"`
}

// StartDiagnostics handles POST /diagnostics.
func (h *RunHandler) StartDiagnostics(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, runs.KindDiagnostics, h.factory.Diagnostics())
}

// StartDiscovery handles POST /discovery.
func (h *RunHandler) StartDiscovery(w http.ResponseWriter, r *http.Request) {
	rangeSpec, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	h.start(w, r, runs.KindDiscovery, h.factory.Discovery(rangeSpec))
}

// StartScan handles POST /scans.
func (h *RunHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	rangeSpec, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	h.start(w, r, runs.KindScan, h.factory.Services(rangeSpec))
}

func (h *RunHandler) parseRange(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req RangeRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize, true); err != nil {
		writeCodedError(w, r, err)
		return "", false
	}
	if req.Range != "" {
		if _, err := discovery.ParseRange(req.Range, h.maxCandidates); err != nil {
			writeCodedError(w, r, err)
			return "", false
		}
	}
	return req.Range, true
}

func (h *RunHandler) start(w http.ResponseWriter, r *http.Request, kind runs.Kind, fn runs.Func) {
	run := h.manager.Start(kind, fn)
	h.logger.Info("Run requested",
		"request_id", middleware.GetRequestID(r),
		"run_id", run.ID,
		"kind", kind)

	w.Header().Set("Location", "/api/v1/runs/"+run.ID.String())
	writeJSON(w, r, http.StatusAccepted, StartedResponse{
		ID:     run.ID,
		Kind:   kind,
		Status: run.Status(),
	})
}

// ListRuns handles GET /runs.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	list := h.manager.List()
	writeJSON(w, r, http.StatusOK, ListRunsResponse{Runs: list, Count: len(list)})
}

// GetRun handles GET /runs/{id}, including the result once available.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, run.Summary(true))
}

// CancelRun handles DELETE /runs/{id}. Canceling a finished run is a no-op.
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.manager.Cancel(run.ID)
	h.logger.Info("Run cancel requested", "request_id", middleware.GetRequestID(r), "run_id", run.ID)
	writeJSON(w, r, http.StatusAccepted, run.Summary(false))
}

// Events handles GET /runs/{id}/events?from=N.
func (h *RunHandler) Events(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	from, err := getQueryParamUint(r, "from", 1)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}
	if from == 0 {
		from = 1
	}

	// Read Closed first so a log closing between the calls is reported as
	// not done rather than done with events missing.
	done := run.Log().Closed()
	evs := run.Log().Events(from)
	next := from
	if len(evs) > 0 {
		next = evs[len(evs)-1].Seq + 1
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, r, http.StatusOK, EventsResponse{Events: evs, Next: next, Done: done})
}

func (h *RunHandler) lookup(w http.ResponseWriter, r *http.Request) (*runs.Run, bool) {
	id, err := extractRunID(r)
	if err != nil {
		writeCodedError(w, r, err)
		return nil, false
	}
	run, ok := h.manager.Get(id)
	if !ok {
		writeCodedError(w, r, errors.NewScanErrorWithTarget(errors.CodeNotFound, "run not found", id.String()))
		return nil, false
	}
	return run, true
}
