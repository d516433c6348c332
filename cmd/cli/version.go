package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// versionInfo is the --json form of the version command.
type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versionInfo{
			Version:   version,
			Commit:    commit,
			BuildTime: buildTime,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		return render(out(cmd), info, func(w io.Writer) {
			fmt.Fprintf(w, "netscope %s\n", info.Version)
			fmt.Fprintf(w, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(w, "  built:      %s\n", info.BuildTime)
			fmt.Fprintf(w, "  go version: %s %s\n", info.GoVersion, info.Platform)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
