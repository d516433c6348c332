package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan [range]",
	Short: "Discover devices and the services they expose",
	Long: `Run a discovery and probe every host found for the services in the
catalog. Hosts are classified by their open ports, and web, SSH, FTP, SMB,
RDP and VNC services are listed with a URL for opening them.

See 'netscope discover --help' for the range syntax and 'netscope services'
for the catalog.`,
	Example: `  netscope scan
  netscope scan 192.168.1.0/24 --port-timeout 500ms
  netscope scan 192.168.1.20 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addDiscoveryFlags(scanCmd)
	scanCmd.Flags().Duration("port-timeout", 0, "time limit per port probe, e.g. 1s")
}

func runScan(cmd *cobra.Command, args []string) error {
	rangeSpec := rangeArg(args)
	if rangeSpec != "" {
		if _, err := discovery.ParseRange(rangeSpec, discovery.DefaultMaxCandidates); err != nil {
			return err
		}
	}

	result, err := execute(cmd, "/scans", rangeSpec,
		func(ctx context.Context, runner *runs.Runner, pub events.Publisher) (*runs.ScanResult, error) {
			return runner.Scan(ctx, rangeSpec, pub)
		})
	if err != nil {
		return err
	}
	if result == nil {
		result = &runs.ScanResult{}
	}
	return render(out(cmd), result, func(w io.Writer) { displayScan(w, result) })
}
