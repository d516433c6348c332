package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/api/handlers"
	"github.com/anstrom/netscope/internal/wol"
)

const wakeTimeout = 5 * time.Second

var wakeBroadcast string

// wakeCmd represents the wake command.
var wakeCmd = &cobra.Command{
	Use:   "wake <mac>",
	Short: "Wake a device with a Wake-on-LAN magic packet",
	Long: `Send a Wake-on-LAN magic packet for the given MAC address. The packet is
broadcast on UDP port 9 unless --broadcast names another address or
address:port, such as the directed broadcast of a remote subnet.

With --remote the packet is sent by the server, which is useful when the
device sits on the server's network.`,
	Example: `  netscope wake aa:bb:cc:dd:ee:ff
  netscope wake AA-BB-CC-DD-EE-FF --broadcast 192.168.1.255
  netscope wake aabbccddeeff --remote http://192.168.1.5:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runWake,
}

func init() {
	rootCmd.AddCommand(wakeCmd)
	wakeCmd.Flags().StringVar(&wakeBroadcast, "broadcast", "", "broadcast address or address:port")
}

func runWake(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), wakeTimeout)
	defer cancel()

	var resp handlers.WakeResponse
	if remoteURL != "" {
		client, err := NewAPIClient(remoteURL)
		if err != nil {
			return err
		}
		if resp, err = client.Wake(ctx, args[0], wakeBroadcast); err != nil {
			return err
		}
	} else {
		mac, err := wol.ParseMAC(args[0])
		if err != nil {
			return err
		}
		target := wol.TargetAddr(wakeBroadcast)
		if err := wol.Send(ctx, mac, target); err != nil {
			return err
		}
		resp = handlers.WakeResponse{Status: "sent", MAC: mac.String(), Target: target}
	}

	return render(out(cmd), resp, func(w io.Writer) {
		fmt.Fprintf(w, "Magic packet for %s sent to %s\n", resp.MAC, resp.Target)
	})
}
