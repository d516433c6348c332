package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/api"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/runs"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

var servePIDFile string

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the netscope API server",
	Long: `Serve the REST and WebSocket API. Diagnostics, discoveries and scans
started through the API run in the background; their events can be paged
over HTTP or streamed over a WebSocket.

The server stops on SIGINT or SIGTERM, canceling the runs in progress.`,
	Example: `  netscope serve
  netscope serve --host 0.0.0.0 --port 9090
  netscope serve --pid-file /run/netscope.pid`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "listen address")
	serveCmd.Flags().Int("port", 0, "listen port")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "write the process ID to this file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if servePIDFile != "" {
		if pid, running := pidFileExists(servePIDFile); running {
			return fmt.Errorf("server is already running (PID %d)", pid)
		}
		if err := writePIDFile(servePIDFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePIDFile(servePIDFile) }()
	}

	manager := runs.NewManager(cfg.API.MaxRuns)
	srv, err := api.New(cfg, manager, runs.NewRunner(cfg))
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	logging.Info("Starting netscope API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", cfg.GetAPIAddress())
	fmt.Fprintf(out(cmd), "netscope %s listening on http://%s\n", getVersion(), cfg.GetAPIAddress())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}

// pidFileExists checks if a PID file exists and if the process is running.
// Returns the PID and whether the process is actually running.
func pidFileExists(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile) //nolint:gosec // path comes from the operator
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}

	// On Unix, Signal(0) tests if we can send a signal to the process
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

// writePIDFile writes the process ID to a file.
func writePIDFile(pidFile string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), dirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), filePermissions)
}

// removePIDFile removes the PID file.
func removePIDFile(pidFile string) error {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(pidFile)
}
