package diagnostics

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/netctx"
	"github.com/anstrom/netscope/internal/probe"
)

type fakePinger struct {
	stats probe.PingStats
	err   error
}

func (f fakePinger) PingCount(context.Context, netip.Addr, int, time.Duration) (probe.PingStats, error) {
	return f.stats, f.err
}

type fakeResolver struct {
	answers map[string]string
}

func (f fakeResolver) LookupHost(_ context.Context, name string, _ time.Duration) ([]netip.Addr, error) {
	if a, ok := f.answers[name]; ok {
		return []netip.Addr{netip.MustParseAddr(a)}, nil
	}
	return nil, fmt.Errorf("no such host %s", name)
}

type fakeHTTP struct {
	mu       sync.Mutex
	statuses map[string]int
	calls    []string
}

func (f *fakeHTTP) Check(_ context.Context, url string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if s, ok := f.statuses[url]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("connection refused")
}

type fakeExternal struct{ ip probe.ExternalIP }

func (f fakeExternal) Lookup(context.Context, time.Duration) probe.ExternalIP { return f.ip }

func healthyContext() *netctx.Context {
	return &netctx.Context{
		Interfaces: []netctx.Interface{
			{
				Name: "eth0", Up: true, Carrier: netctx.LinkUp,
				Addresses: []netip.Prefix{netip.MustParsePrefix("192.168.1.23/24")},
			},
			{Name: "wlan0", Carrier: netctx.LinkDown},
		},
		Gateway:          netip.MustParseAddr("192.168.1.1"),
		GatewayInterface: "eth0",
		DNSServers:       []netip.Addr{netip.MustParseAddr("192.168.1.1")},
	}
}

func healthyProbes() Probes {
	return Probes{
		Pinger: fakePinger{stats: probe.PingStats{Sent: 3, Received: 3, AvgRTT: 2 * time.Millisecond, HasRTT: true}},
		Resolver: fakeResolver{answers: map[string]string{
			"kernel.org": "139.178.84.217",
			"gnu.org":    "209.51.188.116",
		}},
		HTTP: &fakeHTTP{statuses: map[string]int{
			"http://connectivitycheck.gstatic.com/generate_204": http.StatusNoContent,
			"https://repo.example.org":                          http.StatusMovedPermanently,
		}},
		ExternalIP: fakeExternal{ip: probe.ExternalIP{V4: netip.MustParseAddr("203.0.113.7")}},
	}
}

func runDefault(t *testing.T, nc *netctx.Context, readErr error, cfg Config, p Probes) *Report {
	t.Helper()
	engine, err := New(cfg, staticReader{nc: nc, err: readErr}, p)
	require.NoError(t, err)
	return engine.Run(context.Background())
}

func TestDefaultStepsGraphIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultSteps(DefaultConfig(), Probes{})))

	withEndpoints := DefaultConfig()
	withEndpoints.Endpoints = []string{"https://repo.example.org"}
	steps := DefaultSteps(withEndpoints, Probes{})
	require.NoError(t, Validate(steps))
	assert.Equal(t, StepEndpoints, steps[len(steps)-1].ID)
	assert.Len(t, DefaultSteps(DefaultConfig(), Probes{}), len(steps)-1)
}

func TestDefaultRunHealthyNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints = []string{"https://repo.example.org"}

	report := runDefault(t, healthyContext(), nil, cfg, healthyProbes())

	for _, s := range report.Steps {
		assert.Equal(t, StatusPassed, s.Status, "step %s: %s", s.ID, s.Detail)
	}
	assert.Equal(t, OutcomePassed, report.Outcome)

	gw, _ := report.Step(StepGateway)
	assert.Contains(t, gw.Detail, "192.168.1.1 reachable")
	assert.Contains(t, gw.Detail, "3 received")

	dns, _ := report.Step(StepDNSResolution)
	assert.Contains(t, dns.Detail, "kernel.org(139.178.84.217)")
	assert.Contains(t, dns.Detail, "gnu.org(209.51.188.116)")
	assert.NotContains(t, dns.Detail, "kde.org")

	internet, _ := report.Step(StepInternet)
	assert.Equal(t, "Internet access confirmed via http://connectivitycheck.gstatic.com/generate_204", internet.Detail)

	ext, _ := report.Step(StepExternalIP)
	assert.Equal(t, "External IP addresses: IPv4: 203.0.113.7", ext.Detail)

	link, _ := report.Step(StepLinkStatus)
	assert.Equal(t, "Connected interfaces: eth0", link.Detail)
}

func TestDefaultRunNoInterfaces(t *testing.T) {
	report := runDefault(t, nil, errors.ErrNoUsableInterface(), DefaultConfig(), healthyProbes())

	ifaces, _ := report.Step(StepInterfaces)
	assert.Equal(t, StatusFailed, ifaces.Status)
	assert.Equal(t, "Ensure network hardware is properly installed and recognized by the system", ifaces.Tip)

	for _, id := range []string{StepInterfaceStatus, StepLinkStatus, StepIPConfig, StepDefaultRoute, StepGateway} {
		s, _ := report.Step(id)
		assert.Equal(t, StatusSkipped, s.Status, id)
	}

	// DNS checks do not depend on interfaces.
	dnsCfg, _ := report.Step(StepDNSConfig)
	assert.Equal(t, StatusPassed, dnsCfg.Status)
	assert.Contains(t, dnsCfg.Detail, "system default")

	assert.Equal(t, OutcomeFailed, report.Outcome)
}

func TestDefaultRunGatewayUnreachable(t *testing.T) {
	p := healthyProbes()
	p.Pinger = fakePinger{stats: probe.PingStats{Sent: 3}}

	report := runDefault(t, healthyContext(), nil, DefaultConfig(), p)

	gw, _ := report.Step(StepGateway)
	assert.Equal(t, StatusFailed, gw.Status)
	assert.Equal(t, "Gateway 192.168.1.1 is unreachable", gw.Detail)
	assert.Equal(t, OutcomeFailed, report.Outcome)

	internet, _ := report.Step(StepInternet)
	assert.Equal(t, StatusPassed, internet.Status, "internet does not depend on the gateway step")
}

func TestDefaultRunDNSBroken(t *testing.T) {
	p := healthyProbes()
	p.Resolver = fakeResolver{}

	report := runDefault(t, healthyContext(), nil, DefaultConfig(), p)

	dns, _ := report.Step(StepDNSResolution)
	assert.Equal(t, StatusFailed, dns.Status)
	assert.True(t, strings.HasPrefix(dns.Detail, "Failed to resolve any test domains"))

	for _, id := range []string{StepInternet, StepExternalIP} {
		s, _ := report.Step(id)
		assert.Equal(t, StatusSkipped, s.Status, id)
	}
}

func TestDefaultRunNoDefaultRoute(t *testing.T) {
	nc := healthyContext()
	nc.Gateway = netip.Addr{}
	nc.GatewayInterface = ""

	report := runDefault(t, nc, nil, DefaultConfig(), healthyProbes())

	route, _ := report.Step(StepDefaultRoute)
	gw, _ := report.Step(StepGateway)
	assert.Equal(t, StatusFailed, route.Status)
	assert.Equal(t, "No default gateway configured", route.Detail)
	assert.Equal(t, StatusSkipped, gw.Status)
}

func TestDefaultRunLinkLocalOnly(t *testing.T) {
	nc := healthyContext()
	nc.Interfaces[0].Addresses = []netip.Prefix{netip.MustParsePrefix("169.254.10.2/16")}

	report := runDefault(t, nc, nil, DefaultConfig(), healthyProbes())

	ip, _ := report.Step(StepIPConfig)
	assert.Equal(t, StatusFailed, ip.Status)
	assert.Equal(t, "No valid IP addresses configured", ip.Detail)
}

func TestEndpointsStepRequiresEveryURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints = []string{"https://repo.example.org", "https://mirror.example.org"}

	report := runDefault(t, healthyContext(), nil, cfg, healthyProbes())

	ep, _ := report.Step(StepEndpoints)
	assert.Equal(t, StatusFailed, ep.Status)
	assert.Equal(t, "Endpoints not reachable: https://mirror.example.org", ep.Detail)
	assert.False(t, ep.Mandatory)
	assert.Equal(t, OutcomePassed, report.Outcome)
}
