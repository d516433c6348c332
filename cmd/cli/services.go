package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/services"
)

// servicesCmd represents the services command.
var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the services probed by scan",
	Long: `List the service catalog: the built-in services merged with the
services.custom entries of the config file. With --remote the server's
catalog is listed.`,
	Args: cobra.NoArgs,
	RunE: runServices,
}

func init() {
	rootCmd.AddCommand(servicesCmd)
}

func runServices(cmd *cobra.Command, _ []string) error {
	catalog, err := loadCatalog(cmd.Context())
	if err != nil {
		return err
	}
	return render(out(cmd), catalog, func(w io.Writer) { displayCatalog(w, catalog) })
}

func loadCatalog(ctx context.Context) ([]services.Definition, error) {
	if remoteURL != "" {
		client, err := NewAPIClient(remoteURL)
		if err != nil {
			return nil, err
		}
		return client.Services(ctx)
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.ServicesConfig().Catalog, nil
}
