package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/diagnostics"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
)

// diagnoseCmd represents the diagnose command.
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check why this machine cannot reach the network",
	Long: `Run the connectivity checks in order: network interface, IP address,
default gateway, gateway reachability, DNS servers, name resolution and
internet reachability. A failed check skips the checks that depend on it and
prints a tip for fixing it.

The command exits non-zero when a mandatory check fails.`,
	Example: `  netscope diagnose
  netscope diagnose --json
  netscope diagnose --remote http://192.168.1.5:8080`,
	Args: cobra.NoArgs,
	RunE: runDiagnose,
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, _ []string) error {
	report, err := execute(cmd, "/diagnostics", "",
		func(ctx context.Context, runner *runs.Runner, pub events.Publisher) (*diagnostics.Report, error) {
			return runner.Diagnose(ctx, pub)
		})
	if err != nil {
		return err
	}
	if report == nil {
		return fmt.Errorf("diagnostics returned no report")
	}

	if err := render(out(cmd), report, func(w io.Writer) { displayReport(w, report) }); err != nil {
		return err
	}
	if report.Outcome == diagnostics.OutcomeFailed {
		return fmt.Errorf("network diagnostics failed")
	}
	return nil
}
