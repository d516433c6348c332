package discovery

import (
	"fmt"
	"time"

	"github.com/anstrom/netscope/internal/errors"
)

// Timeout floors applied when a timeout is left at zero.
const (
	DefaultPingTimeout     = time.Second
	DefaultHostnameTimeout = 500 * time.Millisecond
	DefaultPortTimeout     = time.Second
	DefaultThreads         = 130
)

// DefaultTCPFallbackPorts are probed on candidates neither ping nor the
// neighbor table confirmed.
var DefaultTCPFallbackPorts = []int{22, 80, 443, 445, 3389}

// Config controls a single discovery run.
type Config struct {
	// Range is the target range, see ParseRange.
	Range string `json:"range"`
	// AutoRange derives the range from the primary interface when Range is empty.
	AutoRange bool `json:"auto_range"`

	PingTimeout     time.Duration `json:"ping_timeout"`
	HostnameTimeout time.Duration `json:"hostname_timeout"`
	PortTimeout     time.Duration `json:"port_timeout"`

	// Threads bounds concurrent probes and enrichment lookups.
	Threads int `json:"threads"`
	// Timeout is the overall run budget. Zero derives one from the
	// candidate count, threads and probe timeouts.
	Timeout time.Duration `json:"timeout"`

	HostnamePolicy     HostnamePolicy `json:"hostname_policy"`
	TCPFallbackPorts   []int          `json:"tcp_fallback_ports"`
	DisableTCPFallback bool           `json:"disable_tcp_fallback"`

	// ProbeRate caps probes started per second. Zero is unlimited.
	ProbeRate     float64 `json:"probe_rate"`
	MaxCandidates int     `json:"max_candidates"`
}

// DefaultConfig returns a configuration that discovers the primary network.
func DefaultConfig() Config {
	return Config{
		AutoRange:        true,
		PingTimeout:      DefaultPingTimeout,
		HostnameTimeout:  DefaultHostnameTimeout,
		PortTimeout:      DefaultPortTimeout,
		Threads:          DefaultThreads,
		HostnamePolicy:   PreferMDNS,
		TCPFallbackPorts: DefaultTCPFallbackPorts,
		MaxCandidates:    DefaultMaxCandidates,
	}
}

// Validate checks the configuration and reports the first offending field.
func (c Config) Validate() error {
	durations := []struct {
		field string
		value time.Duration
	}{
		{"ping_timeout", c.PingTimeout},
		{"hostname_timeout", c.HostnameTimeout},
		{"port_timeout", c.PortTimeout},
		{"timeout", c.Timeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", d.field, d.value)
		}
	}
	if c.Threads < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", "threads", c.Threads)
	}
	if c.MaxCandidates < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", "max_candidates", c.MaxCandidates)
	}
	if c.ProbeRate < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", "probe_rate", c.ProbeRate)
	}
	if !c.HostnamePolicy.Valid() {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("must be %s or %s", PreferMDNS, PreferDNS), "hostname_policy", c.HostnamePolicy)
	}
	for _, p := range c.TCPFallbackPorts {
		if p < 1 || p > 65535 {
			return errors.NewConfigFieldError(errors.CodeValidation, "port out of range", "tcp_fallback_ports", p)
		}
	}
	_, err := ParseRange(c.Range, c.MaxCandidates)
	return err
}

// withDefaults fills zero values with their floors.
func (c Config) withDefaults() Config {
	if c.PingTimeout == 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.HostnameTimeout == 0 {
		c.HostnameTimeout = DefaultHostnameTimeout
	}
	if c.PortTimeout == 0 {
		c.PortTimeout = DefaultPortTimeout
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.HostnamePolicy == "" {
		c.HostnamePolicy = PreferMDNS
	}
	if c.TCPFallbackPorts == nil {
		c.TCPFallbackPorts = DefaultTCPFallbackPorts
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	return c
}

// budget returns the overall run timeout. Probes run in waves of Threads;
// each wave may spend a ping timeout plus the TCP fallback on every port.
func (c Config) budget(candidates int) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	threads := max(c.Threads, 1)
	waves := (candidates + threads - 1) / threads
	perWave := 2*c.PingTimeout + time.Duration(len(c.TCPFallbackPorts))*c.PortTimeout
	if c.DisableTCPFallback {
		perWave = 2 * c.PingTimeout
	}
	enrich := 2 * c.HostnameTimeout * time.Duration(waves)

	const slack = 10 * time.Second
	return time.Duration(waves)*perWave + enrich + slack
}
