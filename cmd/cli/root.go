// Package cli provides the netscope command-line interface: network
// diagnostics, host discovery, service scans, Wake-on-LAN and the API server.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

const envPrefix = "NETSCOPE"

// replacer maps config keys onto environment names.
var replacer = strings.NewReplacer(".", "_")

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
	remoteURL  string
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netscope",
	Short: "LAN diagnostics and device discovery",
	Long: `netscope checks why a machine cannot reach the network, finds the devices
on the local network and the services they expose, and wakes sleeping
devices with Wake-on-LAN.

Commands run in-process by default. With --remote they are executed by a
netscope API server started with 'netscope serve'.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindCommandFlags(cmd); err != nil {
			return err
		}
		initConfig()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 when the environment or configuration rules out the run,
// such as a missing interface or ping binary, and 1 otherwise.
func exitCode(err error) int {
	if errors.IsFatal(err) {
		return 2
	}
	return 1
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./netscope.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	flags.StringVar(&remoteURL, "remote", "", "run through a netscope API server, e.g. http://host:8080")
	flags.String("log-level", "", "log level: debug, info, warn or error")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("netscope")
	}

	// NETSCOPE_SCAN_PING_ATTEMPTS overrides scan.ping_attempts.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// loadConfig reads the config file with config.Load, layers environment
// variables and flags from viper over it and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	applyOverrides(viper.GetViper(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// override maps a viper key onto a config field.
type override struct {
	key   string
	apply func(v *viper.Viper, key string, cfg *config.Config)
}

var overrides = []override{
	{"scan.target_range", func(v *viper.Viper, k string, c *config.Config) { c.Scan.TargetRange = v.GetString(k) }},
	{"scan.ping_timeout", func(v *viper.Viper, k string, c *config.Config) { c.Scan.PingTimeout = v.GetDuration(k) }},
	{"scan.hostname_timeout", func(v *viper.Viper, k string, c *config.Config) { c.Scan.HostnameTimeout = v.GetDuration(k) }},
	{"scan.port_scan_timeout", func(v *viper.Viper, k string, c *config.Config) { c.Scan.PortScanTimeout = v.GetDuration(k) }},
	{"scan.ping_attempts", func(v *viper.Viper, k string, c *config.Config) { c.Scan.PingAttempts = v.GetInt(k) }},
	{"scan.discovery_threads", func(v *viper.Viper, k string, c *config.Config) { c.Scan.DiscoveryThreads = v.GetInt(k) }},
	{"scan.scan_threads", func(v *viper.Viper, k string, c *config.Config) { c.Scan.ScanThreads = v.GetInt(k) }},
	{"scan.timeout", func(v *viper.Viper, k string, c *config.Config) { c.Scan.Timeout = v.GetDuration(k) }},
	{"scan.hostname_preference", func(v *viper.Viper, k string, c *config.Config) { c.Scan.HostnamePreference = v.GetString(k) }},
	{"scan.vendor_table_path", func(v *viper.Viper, k string, c *config.Config) { c.Scan.VendorTablePath = v.GetString(k) }},
	{"scan.disable_tcp_fallback", func(v *viper.Viper, k string, c *config.Config) { c.Scan.DisableTCPFallback = v.GetBool(k) }},
	{"scan.disable_service_browse", func(v *viper.Viper, k string, c *config.Config) { c.Scan.DisableServiceBrowse = v.GetBool(k) }},
	{"scan.ping_backend", func(v *viper.Viper, k string, c *config.Config) { c.Scan.PingBackend = v.GetString(k) }},
	{"scan.probe_rate", func(v *viper.Viper, k string, c *config.Config) { c.Scan.ProbeRate = v.GetFloat64(k) }},
	{"api.listen_addr", func(v *viper.Viper, k string, c *config.Config) { c.API.ListenAddr = v.GetString(k) }},
	{"api.port", func(v *viper.Viper, k string, c *config.Config) { c.API.Port = v.GetInt(k) }},
	{"logging.level", func(v *viper.Viper, k string, c *config.Config) { c.Logging.Level = v.GetString(k) }},
	{"logging.format", func(v *viper.Viper, k string, c *config.Config) { c.Logging.Format = v.GetString(k) }},
	{"logging.output", func(v *viper.Viper, k string, c *config.Config) { c.Logging.Output = v.GetString(k) }},
	{"metrics.enabled", func(v *viper.Viper, k string, c *config.Config) { c.Metrics.Enabled = v.GetBool(k) }},
}

// applyOverrides copies every key set in v onto cfg. viper reports a key as
// set when a bound flag changed, an environment variable exists or the
// config file has it, and the file values are already in cfg.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(v, o.key, cfg)
		}
	}
}

// flagKeys maps command flags onto config keys. Bindings are made for the
// executing command only, so commands may share flag names.
var flagKeys = map[string]string{
	"log-level":    "logging.level",
	"threads":      "scan.discovery_threads",
	"timeout":      "scan.timeout",
	"ping-backend": "scan.ping_backend",
	"port-timeout": "scan.port_scan_timeout",
	"host":         "api.listen_addr",
	"port":         "api.port",
}

// bindCommandFlags binds the flags of cmd, including inherited ones, that
// map to config keys.
func bindCommandFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := viper.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("failed to bind %s flag: %w", f.Name, bindErr)
		}
	})
	return err
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.LoggingConfig()
	logConfig.AddSource = cfg.Logging.Level == "debug"

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
}

// out is where command results are written.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
