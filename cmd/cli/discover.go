package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
)

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover [range]",
	Short: "Find the devices on the local network",
	Long: `Discover live hosts with a ping sweep, the neighbor table and a TCP
fallback, then resolve their names over DNS and mDNS and their vendors from
the MAC address.

The range is CIDR notation (192.168.1.0/24), a span (192.168.1.10-192.168.1.50
or 192.168.1.10-50) or a single address. Without a range the configured
target range is used, and without that the local subnet.`,
	Example: `  netscope discover
  netscope discover 192.168.1.0/24
  netscope discover 10.0.0.1-10.0.0.40 --threads 64 --timeout 30s
  netscope discover --ping-backend nmap`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	addDiscoveryFlags(discoverCmd)
}

// addDiscoveryFlags registers the flags shared by discover and scan. Their
// values reach the config through viper.
func addDiscoveryFlags(cmd *cobra.Command) {
	cmd.Flags().Int("threads", 0, "concurrent discovery probes")
	cmd.Flags().Duration("timeout", 0, "overall time limit, e.g. 30s")
	cmd.Flags().String("ping-backend", "", "ping implementation: exec or nmap")
}

func rangeArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runDiscover(cmd *cobra.Command, args []string) error {
	rangeSpec := rangeArg(args)
	if rangeSpec != "" {
		if _, err := discovery.ParseRange(rangeSpec, discovery.DefaultMaxCandidates); err != nil {
			return err
		}
	}

	result, err := execute(cmd, "/discovery", rangeSpec,
		func(ctx context.Context, runner *runs.Runner, pub events.Publisher) (*discovery.Result, error) {
			return runner.Discover(ctx, rangeSpec, pub)
		})
	if err != nil {
		return err
	}
	if result == nil {
		result = &discovery.Result{Range: rangeSpec, StartedAt: time.Now()}
	}
	return render(out(cmd), result, func(w io.Writer) { displayDiscovery(w, result) })
}
