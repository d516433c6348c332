package diagnostics

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netscope/internal/netctx"
	"github.com/anstrom/netscope/internal/probe"
)

// Step identifiers of the default graph.
const (
	StepInterfaces      = "interfaces"
	StepInterfaceStatus = "interface_status"
	StepLinkStatus      = "link_status"
	StepIPConfig        = "ip_config"
	StepDefaultRoute    = "default_route"
	StepGateway         = "gateway"
	StepDNSConfig       = "dns_config"
	StepDNSResolution   = "dns_resolution"
	StepInternet        = "internet"
	StepExternalIP      = "external_ip"
	StepEndpoints       = "endpoints"
)

// Config tunes the default graph.
type Config struct {
	// StepTimeout bounds each check. Floored at MinStepTimeout.
	StepTimeout time.Duration `json:"step_timeout"`
	// GatewayPings is the number of echoes sent to the gateway.
	GatewayPings int `json:"gateway_pings"`
	// PingTimeout is the per-echo wait.
	PingTimeout time.Duration `json:"ping_timeout"`
	// ProbeTimeout bounds each DNS and HTTP request within a check.
	ProbeTimeout time.Duration `json:"probe_timeout"`
	// TestDomains are resolved in parallel; any success passes.
	TestDomains []string `json:"test_domains"`
	// InternetCheckURLs are tried in order; a 200 or 204 passes.
	InternetCheckURLs []string `json:"internet_check_urls"`
	// Endpoints adds a step requiring every listed URL to answer below 400.
	Endpoints []string `json:"endpoints,omitempty"`
}

// DefaultConfig returns the default check parameters.
func DefaultConfig() Config {
	return Config{
		StepTimeout:  10 * time.Second,
		GatewayPings: 3,
		PingTimeout:  2 * time.Second,
		ProbeTimeout: 5 * time.Second,
		TestDomains:  []string{"kernel.org", "gnu.org", "kde.org"},
		InternetCheckURLs: []string{
			"http://cp.cloudflare.com/generate_204",
			"http://connectivitycheck.gstatic.com/generate_204",
		},
	}
}

// GatewayPinger sends a burst of echoes to one address.
type GatewayPinger interface {
	PingCount(ctx context.Context, addr netip.Addr, count int, timeout time.Duration) (probe.PingStats, error)
}

// HostResolver resolves names to addresses.
type HostResolver interface {
	LookupHost(ctx context.Context, name string, timeout time.Duration) ([]netip.Addr, error)
}

// URLChecker fetches a URL and reports the response status.
type URLChecker interface {
	Check(ctx context.Context, url string, timeout time.Duration) (int, error)
}

// ExternalIPFinder learns the public address.
type ExternalIPFinder interface {
	Lookup(ctx context.Context, timeout time.Duration) probe.ExternalIP
}

// Probes are the primitives the default checks use. A nil Resolver means
// querying the DNS servers of the network context.
type Probes struct {
	Pinger     GatewayPinger
	Resolver   HostResolver
	HTTP       URLChecker
	ExternalIP ExternalIPFinder
}

// DefaultProbes returns the system-backed primitives.
func DefaultProbes() Probes {
	return Probes{
		Pinger:     probe.NewExecPinger(1),
		HTTP:       &probe.HTTPChecker{},
		ExternalIP: probe.NewExternalIPClient(),
	}
}

// New builds an engine running the default graph.
func New(cfg Config, reader ContextReader, probes Probes) (*Engine, error) {
	e, err := NewEngine(reader, DefaultSteps(cfg, probes)...)
	if err != nil {
		return nil, err
	}
	e.SetStepTimeout(cfg.StepTimeout)
	return e, nil
}

// DefaultSteps returns the standard connectivity graph. The endpoints step
// is present only when cfg.Endpoints is non-empty.
func DefaultSteps(cfg Config, p Probes) []Definition {
	defaults := DefaultConfig()
	if cfg.GatewayPings <= 0 {
		cfg.GatewayPings = defaults.GatewayPings
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if len(cfg.TestDomains) == 0 {
		cfg.TestDomains = defaults.TestDomains
	}
	if len(cfg.InternetCheckURLs) == 0 {
		cfg.InternetCheckURLs = defaults.InternetCheckURLs
	}
	c := &checks{cfg: cfg, probes: p}

	steps := []Definition{
		{
			ID: StepInterfaces, Label: "List network devices", Mandatory: true,
			Tip:   "Ensure network hardware is properly installed and recognized by the system",
			Check: c.interfaces,
		},
		{
			ID: StepInterfaceStatus, Label: "Check interface status", Mandatory: true,
			DependsOn: []string{StepInterfaces},
			Tip:       "Enable network interfaces or check hardware connections",
			Check:     c.interfaceStatus,
		},
		{
			ID: StepLinkStatus, Label: "Check link status", Mandatory: true,
			DependsOn: []string{StepInterfaceStatus},
			Tip:       "Check cable connections or WiFi association",
			Check:     c.linkStatus,
		},
		{
			ID: StepIPConfig, Label: "Check IP configuration", Mandatory: true,
			DependsOn: []string{StepInterfaces},
			Tip:       "Configure static IP or check DHCP server availability",
			Check:     c.ipConfig,
		},
		{
			ID: StepDefaultRoute, Label: "Check default route", Mandatory: true,
			DependsOn: []string{StepIPConfig},
			Tip:       "Configure default gateway or check router settings",
			Check:     c.defaultRoute,
		},
		{
			ID: StepGateway, Label: "Test gateway connectivity", Mandatory: true,
			DependsOn: []string{StepDefaultRoute},
			Tip:       "Check router/gateway availability and firewall settings",
			Check:     c.gateway,
		},
		{
			ID: StepDNSConfig, Label: "Check DNS configuration", Mandatory: true,
			Tip:   "Configure valid DNS servers (e.g., 8.8.8.8, 1.1.1.1)",
			Check: c.dnsConfig,
		},
		{
			ID: StepDNSResolution, Label: "Test DNS resolution", Mandatory: true,
			DependsOn: []string{StepDNSConfig},
			Tip:       "Check DNS server configuration or use alternative DNS servers",
			Check:     c.dnsResolution,
		},
		{
			ID: StepInternet, Label: "Test internet access", Mandatory: true,
			DependsOn: []string{StepDNSResolution},
			Tip:       "Check firewall settings and proxy configuration",
			Check:     c.internet,
		},
		{
			ID: StepExternalIP, Label: "Check external IP",
			DependsOn: []string{StepDNSResolution},
			Tip:       "Check internet connectivity and firewall settings",
			Check:     c.externalIP,
		},
	}

	if len(cfg.Endpoints) > 0 {
		steps = append(steps, Definition{
			ID: StepEndpoints, Label: "Test configured endpoints",
			DependsOn: []string{StepInternet},
			Tip:       "Check connectivity to the configured endpoints",
			Check:     c.endpoints,
		})
	}
	return steps
}

type checks struct {
	cfg    Config
	probes Probes
}

func (c *checks) interfaces(_ context.Context, env *Env) Result {
	if env.Net == nil {
		if env.NetErr != nil {
			return Fail("No valid network interfaces found: %v", env.NetErr)
		}
		return Fail("No valid network interfaces found")
	}
	names := make([]string, 0, len(env.Net.Interfaces))
	for _, iface := range env.Net.Interfaces {
		names = append(names, iface.Name)
	}
	return Pass("Found %d network interfaces: %s", len(names), strings.Join(names, ", "))
}

func (c *checks) interfaceStatus(_ context.Context, env *Env) Result {
	active := collect(env, func(iface netctx.Interface) (string, bool) {
		return iface.Name, iface.Up
	})
	if len(active) == 0 {
		return Fail("No active network interfaces found")
	}
	return Pass("Active interfaces: %s", strings.Join(active, ", "))
}

func (c *checks) linkStatus(_ context.Context, env *Env) Result {
	connected := collect(env, func(iface netctx.Interface) (string, bool) {
		return iface.Name, iface.Up && iface.Carrier == netctx.LinkUp
	})
	if len(connected) == 0 {
		return Fail("No connected network interfaces found")
	}
	return Pass("Connected interfaces: %s", strings.Join(connected, ", "))
}

func (c *checks) ipConfig(_ context.Context, env *Env) Result {
	configured := collect(env, func(iface netctx.Interface) (string, bool) {
		var addrs []string
		for _, p := range iface.Addresses {
			// Link-local IPv4 means DHCP never answered.
			if p.Addr().Is4() && !p.Addr().IsLinkLocalUnicast() {
				addrs = append(addrs, p.Addr().String())
			}
		}
		return fmt.Sprintf("%s(%s)", iface.Name, strings.Join(addrs, ", ")), len(addrs) > 0
	})
	if len(configured) == 0 {
		return Fail("No valid IP addresses configured")
	}
	return Pass("Configured interfaces: %s", strings.Join(configured, ", "))
}

func (c *checks) defaultRoute(_ context.Context, env *Env) Result {
	if env.Net == nil || !env.Net.HasGateway() {
		return Fail("No default gateway configured")
	}
	return Pass("Default gateway: %s via %s", env.Net.Gateway, env.Net.GatewayInterface)
}

func (c *checks) gateway(ctx context.Context, env *Env) Result {
	if env.Net == nil || !env.Net.HasGateway() {
		return Fail("No default gateway to test")
	}
	if c.probes.Pinger == nil {
		return Fail("No pinger available")
	}

	gw := env.Net.Gateway
	stats, err := c.probes.Pinger.PingCount(ctx, gw, c.cfg.GatewayPings, c.cfg.PingTimeout)
	if err != nil {
		return Fail("Failed to test gateway connectivity: %v", err)
	}
	if stats.Received == 0 {
		return Fail("Gateway %s is unreachable", gw)
	}

	detail := fmt.Sprintf("Gateway %s reachable - %d packets transmitted, %d received", gw, stats.Sent, stats.Received)
	if stats.HasRTT {
		detail += fmt.Sprintf(", avg %s", stats.AvgRTT.Round(10*time.Microsecond))
	}
	return Result{Passed: true, Detail: detail}
}

func (c *checks) dnsConfig(_ context.Context, env *Env) Result {
	if env.Net == nil || len(env.Net.DNSServers) == 0 {
		return Pass("Configured DNS servers: using system default")
	}
	servers := make([]string, len(env.Net.DNSServers))
	for i, s := range env.Net.DNSServers {
		servers[i] = s.String()
	}
	return Pass("Configured DNS servers: %s", strings.Join(servers, ", "))
}

func (c *checks) dnsResolution(ctx context.Context, env *Env) Result {
	resolver := c.probes.Resolver
	if resolver == nil {
		var servers []netip.Addr
		if env.Net != nil {
			servers = env.Net.DNSServers
		}
		resolver = probe.NewDNSResolver(servers)
	}

	resolved := make([]string, len(c.cfg.TestDomains))
	var g errgroup.Group
	for i, domain := range c.cfg.TestDomains {
		g.Go(func() error {
			addrs, err := resolver.LookupHost(ctx, domain, c.cfg.ProbeTimeout)
			if err == nil && len(addrs) > 0 {
				resolved[i] = fmt.Sprintf("%s(%s)", domain, addrs[0])
			}
			return nil
		})
	}
	_ = g.Wait()

	var ok []string
	for _, r := range resolved {
		if r != "" {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return Fail("Failed to resolve any test domains: %s", strings.Join(c.cfg.TestDomains, ", "))
	}
	return Pass("Resolved: %s", strings.Join(ok, ", "))
}

func (c *checks) internet(ctx context.Context, _ *Env) Result {
	if c.probes.HTTP == nil {
		return Fail("No HTTP checker available")
	}
	for _, url := range c.cfg.InternetCheckURLs {
		if ctx.Err() != nil {
			break
		}
		status, err := c.probes.HTTP.Check(ctx, url, c.cfg.ProbeTimeout)
		if err == nil && probe.Reachable(status) {
			return Pass("Internet access confirmed via %s", url)
		}
	}
	return Fail("No internet access detected")
}

func (c *checks) externalIP(ctx context.Context, _ *Env) Result {
	if c.probes.ExternalIP == nil {
		return Fail("Unable to determine external IP addresses")
	}
	ip := c.probes.ExternalIP.Lookup(ctx, c.cfg.ProbeTimeout)
	if !ip.Found() {
		return Fail("Unable to determine external IP addresses")
	}

	var parts []string
	if ip.V4.IsValid() {
		parts = append(parts, "IPv4: "+ip.V4.String())
	}
	if ip.V6.IsValid() {
		parts = append(parts, "IPv6: "+ip.V6.String())
	}
	return Pass("External IP addresses: %s", strings.Join(parts, ", "))
}

func (c *checks) endpoints(ctx context.Context, _ *Env) Result {
	if c.probes.HTTP == nil {
		return Fail("No HTTP checker available")
	}
	var failed []string
	for _, url := range c.cfg.Endpoints {
		status, err := c.probes.HTTP.Check(ctx, url, c.cfg.ProbeTimeout)
		// Repositories and web endpoints commonly answer with redirects.
		if err != nil || status >= 400 {
			failed = append(failed, url)
		}
	}
	if len(failed) > 0 {
		return Fail("Endpoints not reachable: %s", strings.Join(failed, ", "))
	}
	return Pass("Endpoint access confirmed: %s", strings.Join(c.cfg.Endpoints, ", "))
}

// collect applies fn to every interface of the context and keeps the
// labels it accepts.
func collect(env *Env, fn func(netctx.Interface) (string, bool)) []string {
	if env.Net == nil {
		return nil
	}
	var out []string
	for _, iface := range env.Net.Interfaces {
		if label, ok := fn(iface); ok {
			out = append(out, label)
		}
	}
	return out
}
