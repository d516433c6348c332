// Package config loads, validates and saves the netscope configuration and
// maps it onto the engine-local settings of each component.
package config

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netscope/internal/diagnostics"
	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/services"
)

// Ping backends.
const (
	PingBackendExec = "exec"
	PingBackendNmap = "nmap"
)

// Config represents the complete configuration
type Config struct {
	// Discovery and probing settings
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Connectivity check settings
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" json:"diagnostics"`

	// Service catalog settings
	Services ServicesConfig `yaml:"services" json:"services"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanConfig holds discovery and port probing settings
type ScanConfig struct {
	// Range to discover; empty means the primary interface's network
	TargetRange string `yaml:"target_range" json:"target_range"`

	// Per-probe timeouts. Zero takes the engine floor.
	PingTimeout     time.Duration `yaml:"ping_timeout" json:"ping_timeout" validate:"min=0"`
	HostnameTimeout time.Duration `yaml:"hostname_timeout" json:"hostname_timeout" validate:"min=0"`
	PortScanTimeout time.Duration `yaml:"port_scan_timeout" json:"port_scan_timeout" validate:"min=0"`

	// Echo requests per address before giving up
	PingAttempts int `yaml:"ping_attempts" json:"ping_attempts" validate:"min=1,max=10"`

	// Worker pool sizes
	DiscoveryThreads int `yaml:"discovery_threads" json:"discovery_threads" validate:"min=1,max=1024"`
	ScanThreads      int `yaml:"scan_threads" json:"scan_threads" validate:"min=1,max=1024"`

	// Overall discovery budget; zero derives one from the range size
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`

	// Display name policy: prefer-mdns or prefer-dns
	HostnamePreference string `yaml:"hostname_preference" json:"hostname_preference" validate:"omitempty,oneof=prefer-mdns prefer-dns"`

	// OUI registry file; empty searches the usual locations
	VendorTablePath string `yaml:"vendor_table_path" json:"vendor_table_path"`

	// TCP fallback for hosts that ignore ping
	TCPFallbackPorts   []int `yaml:"tcp_fallback_ports" json:"tcp_fallback_ports" validate:"dive,min=1,max=65535"`
	DisableTCPFallback bool  `yaml:"disable_tcp_fallback" json:"disable_tcp_fallback"`

	// Skips the DNS-SD browse that lists advertised services
	DisableServiceBrowse bool `yaml:"disable_service_browse" json:"disable_service_browse"`

	// exec runs the ping binary per address, nmap does one bulk sweep
	PingBackend string `yaml:"ping_backend" json:"ping_backend" validate:"oneof=exec nmap"`

	// Probes started per second across the pool; zero is unlimited
	ProbeRate float64 `yaml:"probe_rate" json:"probe_rate" validate:"min=0"`

	// Largest range a single run may expand to
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates" validate:"min=1,max=65536"`
}

// DiagnosticsConfig holds connectivity check settings
type DiagnosticsConfig struct {
	StepTimeout       time.Duration `yaml:"step_timeout" json:"step_timeout" validate:"min=0"`
	GatewayPings      int           `yaml:"gateway_pings" json:"gateway_pings" validate:"min=1,max=20"`
	PingTimeout       time.Duration `yaml:"ping_timeout" json:"ping_timeout" validate:"min=0"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout" json:"probe_timeout" validate:"min=0"`
	TestDomains       []string      `yaml:"test_domains" json:"test_domains" validate:"min=1,dive,hostname"`
	InternetCheckURLs []string      `yaml:"internet_check_urls" json:"internet_check_urls" validate:"min=1,dive,url"`

	// Extra URLs that must all answer; adds the endpoints step
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty" validate:"dive,url"`
}

// ServicesConfig holds service catalog settings
type ServicesConfig struct {
	// Definitions added to, or replacing entries of, the default catalog
	Custom []services.Definition `yaml:"custom,omitempty" json:"custom,omitempty" validate:"dive"`

	// Scan only the custom definitions
	SkipDefaults bool `yaml:"skip_defaults" json:"skip_defaults"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"min=0"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"min=1"`

	// Finished runs kept in memory
	MaxRuns int `yaml:"max_runs" json:"max_runs" validate:"min=1,max=10000"`

	// Per-client request limits
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"min=1"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"omitempty,startswith=/"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	diag := diagnostics.DefaultConfig()
	return &Config{
		Scan: ScanConfig{
			PingTimeout:        discovery.DefaultPingTimeout,
			HostnameTimeout:    discovery.DefaultHostnameTimeout,
			PortScanTimeout:    services.DefaultPortTimeout,
			PingAttempts:       2,
			DiscoveryThreads:   discovery.DefaultThreads,
			ScanThreads:        services.DefaultThreads,
			HostnamePreference: string(discovery.PreferMDNS),
			TCPFallbackPorts:   append([]int(nil), discovery.DefaultTCPFallbackPorts...),
			PingBackend:        PingBackendExec,
			MaxCandidates:      discovery.DefaultMaxCandidates,
		},
		Diagnostics: DiagnosticsConfig{
			StepTimeout:       diag.StepTimeout,
			GatewayPings:      diag.GatewayPings,
			PingTimeout:       diag.PingTimeout,
			ProbeTimeout:      diag.ProbeTimeout,
			TestDomains:       diag.TestDomains,
			InternetCheckURLs: diag.InternetCheckURLs,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1",
			Port:       8080,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
			},
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
			MaxRuns:        50,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stderr",
			RequestLogging: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML names so errors match the file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports the first failing field by
// its YAML path, e.g. scan.ping_attempts.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}
	fe := verrs[0]
	return errors.NewConfigFieldError(errors.CodeValidation,
		fmt.Sprintf("failed %q validation", fieldRule(fe)), fieldPath(fe), fe.Value())
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// DiscoveryConfig maps the scan section onto a discovery run.
func (c *Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		Range:              c.Scan.TargetRange,
		AutoRange:          true,
		PingTimeout:        c.Scan.PingTimeout,
		HostnameTimeout:    c.Scan.HostnameTimeout,
		PortTimeout:        c.Scan.PortScanTimeout,
		Threads:            c.Scan.DiscoveryThreads,
		Timeout:            c.Scan.Timeout,
		HostnamePolicy:     discovery.HostnamePolicy(c.Scan.HostnamePreference),
		TCPFallbackPorts:   c.Scan.TCPFallbackPorts,
		DisableTCPFallback: c.Scan.DisableTCPFallback,
		ProbeRate:          c.Scan.ProbeRate,
		MaxCandidates:      c.Scan.MaxCandidates,
	}
}

// DiscoveryProbes builds the probe set selected by the scan section.
func (c *Config) DiscoveryProbes() discovery.Probes {
	probes := discovery.Probes{
		Pinger: probe.NewExecPinger(c.Scan.PingAttempts),
	}
	if c.Scan.PingBackend == PingBackendNmap {
		probes.Sweeper = &probe.NmapSweeper{}
	}
	if c.Scan.VendorTablePath != "" {
		probes.Vendors = probe.OpenVendorTable(c.Scan.VendorTablePath)
	}
	if !c.Scan.DisableServiceBrowse {
		probes.Services = &probe.DNSSDBrowser{}
	}
	return probes
}

// ServicesConfig maps the scan and services sections onto a service scan.
func (c *Config) ServicesConfig() services.Config {
	var base []services.Definition
	if !c.Services.SkipDefaults {
		base = services.DefaultCatalog()
	}
	return services.Config{
		PortTimeout: c.Scan.PortScanTimeout,
		Threads:     c.Scan.ScanThreads,
		Catalog:     services.MergeCatalog(base, c.Services.Custom),
		ProbeRate:   c.Scan.ProbeRate,
	}
}

// DiagnosticsConfig maps the diagnostics section onto the default graph.
func (c *Config) DiagnosticsConfig() diagnostics.Config {
	return diagnostics.Config{
		StepTimeout:       c.Diagnostics.StepTimeout,
		GatewayPings:      c.Diagnostics.GatewayPings,
		PingTimeout:       c.Diagnostics.PingTimeout,
		ProbeTimeout:      c.Diagnostics.ProbeTimeout,
		TestDomains:       c.Diagnostics.TestDomains,
		InternetCheckURLs: c.Diagnostics.InternetCheckURLs,
		Endpoints:         c.Diagnostics.Endpoints,
	}
}

// LoggingConfig maps the logging section onto the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: logging.LogFormat(c.Logging.Format),
		Output: c.Logging.Output,
	}
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.ListenAddr, strconv.Itoa(c.API.Port))
}
