package handlers

import (
	"log/slog"
	"net/http"

	"github.com/anstrom/netscope/internal/runs"
	"github.com/anstrom/netscope/internal/services"
)

// Options configures the handler groups.
type Options struct {
	Catalog        []services.Definition
	MaxCandidates  int
	MaxRequestSize int64
	WakeSender     WakeSender
}

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	manager *runs.Manager
	logger  *slog.Logger

	// Individual handler groups
	health    *HealthHandler
	runs      *RunHandler
	websocket *WebSocketHandler
	wake      *WakeHandler
}

// New creates a new handler manager with all handler groups initialized.
func New(manager *runs.Manager, factory RunFactory, logger *slog.Logger, opts Options) *HandlerManager {
	return &HandlerManager{
		manager:   manager,
		logger:    logger,
		health:    NewHealthHandler(manager, opts.Catalog, logger),
		runs:      NewRunHandler(manager, factory, opts.MaxCandidates, opts.MaxRequestSize, logger),
		websocket: NewWebSocketHandler(manager, logger),
		wake:      NewWakeHandler(opts.WakeSender, opts.MaxRequestSize, logger),
	}
}

// Health handles GET /health.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) {
	hm.health.Health(w, r)
}

// Version handles GET /version.
func (hm *HandlerManager) Version(w http.ResponseWriter, r *http.Request) {
	hm.health.Version(w, r)
}

// Services handles GET /services - the service catalog.
func (hm *HandlerManager) Services(w http.ResponseWriter, r *http.Request) {
	hm.health.Services(w, r)
}

// StartDiagnostics handles POST /diagnostics.
func (hm *HandlerManager) StartDiagnostics(w http.ResponseWriter, r *http.Request) {
	hm.runs.StartDiagnostics(w, r)
}

// StartDiscovery handles POST /discovery.
func (hm *HandlerManager) StartDiscovery(w http.ResponseWriter, r *http.Request) {
	hm.runs.StartDiscovery(w, r)
}

// StartScan handles POST /scans.
func (hm *HandlerManager) StartScan(w http.ResponseWriter, r *http.Request) {
	hm.runs.StartScan(w, r)
}

// ListRuns handles GET /runs.
func (hm *HandlerManager) ListRuns(w http.ResponseWriter, r *http.Request) {
	hm.runs.ListRuns(w, r)
}

// GetRun handles GET /runs/{id}.
func (hm *HandlerManager) GetRun(w http.ResponseWriter, r *http.Request) {
	hm.runs.GetRun(w, r)
}

// CancelRun handles DELETE /runs/{id}.
func (hm *HandlerManager) CancelRun(w http.ResponseWriter, r *http.Request) {
	hm.runs.CancelRun(w, r)
}

// RunEvents handles GET /runs/{id}/events.
func (hm *HandlerManager) RunEvents(w http.ResponseWriter, r *http.Request) {
	hm.runs.Events(w, r)
}

// RunWebSocket handles GET /runs/{id}/ws.
func (hm *HandlerManager) RunWebSocket(w http.ResponseWriter, r *http.Request) {
	hm.websocket.RunEvents(w, r)
}

// Wake handles POST /wake.
func (hm *HandlerManager) Wake(w http.ResponseWriter, r *http.Request) {
	hm.wake.Wake(w, r)
}

// GetRuns returns the run manager.
func (hm *HandlerManager) GetRuns() *runs.Manager {
	return hm.manager
}

// GetLogger returns the logger instance.
func (hm *HandlerManager) GetLogger() *slog.Logger {
	return hm.logger
}
