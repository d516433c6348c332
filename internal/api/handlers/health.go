package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/anstrom/netscope/internal/runs"
	"github.com/anstrom/netscope/internal/services"
)

// Status constants.
const (
	StatusHealthy = "healthy"
)

// Build information, set by the main package.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// SetBuildInfo sets build information (called by main package).
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

// HealthHandler handles health, version and catalog endpoints.
type HealthHandler struct {
	runs      *runs.Manager
	catalog   []services.Definition
	logger    *slog.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. catalog is the effective
// service catalog scans will use.
func NewHealthHandler(manager *runs.Manager, catalog []services.Definition, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		runs:      manager,
		catalog:   catalog,
		logger:    logger.With("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Uptime     string    `json:"uptime"`
	ActiveRuns int       `json:"active_runs"`
	PID        int       `json:"pid"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// CatalogResponse lists the services a scan probes.
type CatalogResponse struct {
	Services []services.Definition `json:"services"`
	Count    int                   `json:"count"`
}

// Health reports liveness. The process has no external dependencies, so a
// response means healthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested", "remote_addr", r.RemoteAddr)

	active := 0
	for _, s := range h.runs.List() {
		if s.Status == runs.StatusRunning {
			active++
		}
	}

	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).String(),
		ActiveRuns: active,
		PID:        os.Getpid(),
	})
}

// Version provides version information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// Services lists the service catalog.
func (h *HealthHandler) Services(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, CatalogResponse{
		Services: h.catalog,
		Count:    len(h.catalog),
	})
}
