package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/netctx"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/probe/mocks"
)

type staticReader struct {
	nc  *netctx.Context
	err error
}

func (r staticReader) Read(context.Context) (*netctx.Context, error) {
	return r.nc, r.err
}

type pingFunc func(ctx context.Context, addr netip.Addr) (probe.PingResult, error)

func (f pingFunc) Ping(ctx context.Context, addr netip.Addr, _ time.Duration) (probe.PingResult, error) {
	return f(ctx, addr)
}

type proberFunc func(addr netip.Addr, port int) (probe.PortResult, error)

func (f proberFunc) Probe(_ context.Context, addr netip.Addr, port int, _ time.Duration) (probe.PortResult, error) {
	return f(addr, port)
}

type staticNeighbors struct {
	entries map[netip.Addr]net.HardwareAddr
	err     error
}

func (s staticNeighbors) ReadNeighbors(context.Context) (map[netip.Addr]net.HardwareAddr, error) {
	return s.entries, s.err
}

type noNames struct{}

func (noNames) ResolveHostname(context.Context, netip.Addr, time.Duration) (string, bool) {
	return "", false
}

func (noNames) ResolveMdns(context.Context, netip.Addr, time.Duration) (string, bool) {
	return "", false
}

type fakeSweeper struct {
	found map[netip.Addr]probe.SweepResult
	err   error
}

func (f fakeSweeper) Sweep(context.Context, []netip.Addr, time.Duration) (map[netip.Addr]probe.SweepResult, error) {
	return f.found, f.err
}

type publisherFunc func(eventType string, data any)

func (f publisherFunc) Publish(eventType string, data any) { f(eventType, data) }

func unreachable(context.Context, netip.Addr) (probe.PingResult, error) {
	return probe.PingResult{}, nil
}

func filtered(netip.Addr, int) (probe.PortResult, error) {
	return probe.PortResult{State: probe.PortFiltered}, nil
}

// quietProbes never confirms anything and never touches the network.
func quietProbes() Probes {
	return Probes{
		Pinger:    pingFunc(unreachable),
		Prober:    proberFunc(filtered),
		Neighbors: staticNeighbors{},
		DNS:       noNames{},
		MDNS:      noNames{},
		Vendors:   probe.NewVendorTable(nil),
	}
}

func TestDiscoverMergesStrategies(t *testing.T) {
	ctrl := gomock.NewController(t)

	gateway := netip.MustParseAddr("10.0.1.1")
	printer := netip.MustParseAddr("10.0.1.2")
	mac, _ := net.ParseMAC("aa:bb:cc:00:11:22")
	stray, _ := net.ParseMAC("02:00:00:00:00:99")

	pinger := mocks.NewMockPinger(ctrl)
	pinger.EXPECT().Ping(gomock.Any(), gateway, 500*time.Millisecond).
		Return(probe.PingResult{Reachable: true, RTT: 3 * time.Millisecond, HasRTT: true}, nil)
	pinger.EXPECT().Ping(gomock.Any(), printer, 500*time.Millisecond).
		Return(probe.PingResult{}, nil)

	neighbors := mocks.NewMockNeighborReader(ctrl)
	neighbors.EXPECT().ReadNeighbors(gomock.Any()).Return(map[netip.Addr]net.HardwareAddr{
		printer:                            mac,
		netip.MustParseAddr("192.168.9.9"): stray,
	}, nil)

	// Both candidates are confirmed, so the TCP fallback must not probe.
	prober := mocks.NewMockPortProber(ctrl)

	dns := mocks.NewMockHostnameResolver(ctrl)
	dns.EXPECT().ResolveHostname(gomock.Any(), gateway, gomock.Any()).Return("router.lan.", true)
	dns.EXPECT().ResolveHostname(gomock.Any(), printer, gomock.Any()).Return("", false)

	mdns := mocks.NewMockMdnsResolver(ctrl)
	mdns.EXPECT().ResolveMdns(gomock.Any(), gateway, gomock.Any()).Return("", false)
	mdns.EXPECT().ResolveMdns(gomock.Any(), printer, gomock.Any()).Return("printer.local", true)

	engine := NewEngine(staticReader{nc: &netctx.Context{Gateway: gateway}}, Probes{
		Pinger:    pinger,
		Prober:    prober,
		Neighbors: neighbors,
		DNS:       dns,
		MDNS:      mdns,
		Vendors:   probe.NewVendorTable(map[string]string{"AA:BB:CC": "Acme Printers"}),
	})

	result, err := engine.Discover(context.Background(), Config{
		Range:       "10.0.1.0/30",
		PingTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, result.Incomplete)
	assert.Equal(t, 2, result.Candidates)
	assert.Empty(t, result.Warnings)

	require.Len(t, result.Hosts, 2)

	gw := result.Hosts[0]
	assert.Equal(t, gateway, gw.Addr)
	assert.Equal(t, []Source{SourcePing}, gw.Sources)
	assert.True(t, gw.Gateway)
	assert.Equal(t, "router.lan", gw.Name)
	assert.Equal(t, 3*time.Millisecond, gw.Latency)

	pr := result.Hosts[1]
	assert.Equal(t, printer, pr.Addr)
	assert.Equal(t, []Source{SourceNeighbor}, pr.Sources)
	assert.Equal(t, "aa:bb:cc:00:11:22", pr.MAC)
	assert.Equal(t, "Acme Printers", pr.Vendor)
	assert.Equal(t, "printer.local", pr.Name)
	assert.Equal(t, []Hostname{{Name: "printer.local", Source: HostnameMDNS}}, pr.Hostnames)
	assert.False(t, pr.HasLatency)
	assert.False(t, pr.Gateway)
}

func TestDiscoverTCPFallbackCoversUnconfirmed(t *testing.T) {
	alive := netip.MustParseAddr("10.0.0.5")
	closed := netip.MustParseAddr("10.0.0.6")

	var mu sync.Mutex
	probed := map[netip.Addr][]int{}

	probes := quietProbes()
	probes.Prober = proberFunc(func(addr netip.Addr, port int) (probe.PortResult, error) {
		mu.Lock()
		probed[addr] = append(probed[addr], port)
		mu.Unlock()
		switch {
		case addr == alive && port == 80:
			return probe.PortResult{State: probe.PortOpen, Latency: time.Millisecond}, nil
		case addr == closed && port == 22:
			return probe.PortResult{State: probe.PortClosed}, nil
		}
		return probe.PortResult{State: probe.PortFiltered}, nil
	})

	result, err := NewEngine(nil, probes).Discover(context.Background(), Config{Range: "10.0.0.5-7"})
	require.NoError(t, err)

	require.Len(t, result.Hosts, 2)
	assert.Equal(t, alive, result.Hosts[0].Addr)
	assert.Equal(t, []Source{SourceTCP}, result.Hosts[0].Sources)
	assert.Equal(t, closed, result.Hosts[1].Addr)

	assert.Equal(t, []int{22, 80}, probed[alive], "probing stops at the first answer")
	assert.Equal(t, []int{22}, probed[closed])
	assert.Equal(t, DefaultTCPFallbackPorts, probed[netip.MustParseAddr("10.0.0.7")])
}

func TestDiscoverFallbackDisabled(t *testing.T) {
	probes := quietProbes()
	probes.Prober = proberFunc(func(netip.Addr, int) (probe.PortResult, error) {
		t.Error("fallback disabled but a port was probed")
		return probe.PortResult{}, nil
	})

	result, err := NewEngine(nil, probes).Discover(context.Background(), Config{
		Range:              "10.0.0.1-3",
		DisableTCPFallback: true,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Hosts)
	assert.Equal(t, 3, result.Candidates)
}

func TestDiscoverWithoutPing(t *testing.T) {
	missing := errors.ErrUnavailableCapability("ping", stderrors.New("executable file not found"))

	probes := quietProbes()
	probes.Pinger = pingFunc(func(context.Context, netip.Addr) (probe.PingResult, error) {
		return probe.PingResult{}, missing
	})
	probes.Prober = proberFunc(func(addr netip.Addr, port int) (probe.PortResult, error) {
		if addr == netip.MustParseAddr("10.0.0.2") && port == 443 {
			return probe.PortResult{State: probe.PortOpen}, nil
		}
		return probe.PortResult{State: probe.PortFiltered}, nil
	})

	result, err := NewEngine(nil, probes).Discover(context.Background(), Config{Range: "10.0.0.1-3"})
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "ping sweep skipped")
	require.Len(t, result.Hosts, 1)
	assert.Equal(t, []Source{SourceTCP}, result.Hosts[0].Sources)
}

func TestDiscoverNoStrategyAvailable(t *testing.T) {
	probes := quietProbes()
	probes.Pinger = pingFunc(func(context.Context, netip.Addr) (probe.PingResult, error) {
		return probe.PingResult{}, errors.ErrUnavailableCapability("ping", nil)
	})
	probes.Neighbors = staticNeighbors{err: errors.ErrUnavailableCapability("ip", nil)}

	result, err := NewEngine(nil, probes).Discover(context.Background(), Config{
		Range:              "10.0.0.1",
		DisableTCPFallback: true,
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailableCapability))
}

func TestDiscoverSweeperBackend(t *testing.T) {
	target := netip.MustParseAddr("10.0.0.7")
	mac, _ := net.ParseMAC("00:11:22:33:44:55")

	probes := quietProbes()
	probes.Pinger = pingFunc(func(context.Context, netip.Addr) (probe.PingResult, error) {
		t.Error("per-address ping used despite a sweeper")
		return probe.PingResult{}, nil
	})
	probes.Sweeper = fakeSweeper{found: map[netip.Addr]probe.SweepResult{
		target: {Addr: target, MAC: mac, Vendor: "Cisco", Hostname: "switch.lan"},
	}}

	result, err := NewEngine(nil, probes).Discover(context.Background(), Config{
		Range:              "10.0.0.7",
		DisableTCPFallback: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Hosts, 1)

	h := result.Hosts[0]
	assert.Equal(t, []Source{SourcePing}, h.Sources)
	assert.Equal(t, "00:11:22:33:44:55", h.MAC)
	assert.Equal(t, "Cisco", h.Vendor)
	assert.Equal(t, "switch.lan", h.Name)
}

func TestDiscoverCancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live := map[netip.Addr]bool{
		netip.MustParseAddr("10.0.0.2"): true,
		netip.MustParseAddr("10.0.0.5"): true,
		netip.MustParseAddr("10.0.0.9"): true,
	}

	probes := quietProbes()
	probes.Pinger = pingFunc(func(ctx context.Context, addr netip.Addr) (probe.PingResult, error) {
		if live[addr] {
			return probe.PingResult{Reachable: true}, nil
		}
		<-ctx.Done()
		return probe.PingResult{}, nil
	})

	var mu sync.Mutex
	found := 0
	engine := NewEngine(nil, probes)
	engine.SetPublisher(publisherFunc(func(eventType string, _ any) {
		if eventType != events.HostFound {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if found++; found == 3 {
			cancel()
		}
	}))

	result, err := engine.Discover(ctx, Config{
		Range:   "10.0.0.1-10",
		Threads: 10,
		Timeout: time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, result.Incomplete)
	require.Len(t, result.Hosts, 3)
	for _, h := range result.Hosts {
		assert.True(t, live[h.Addr], h.Addr.String())
	}
}

func TestDiscoverBudgetMarksIncomplete(t *testing.T) {
	probes := quietProbes()
	probes.Pinger = pingFunc(func(ctx context.Context, _ netip.Addr) (probe.PingResult, error) {
		<-ctx.Done()
		return probe.PingResult{}, nil
	})

	result, err := NewEngine(nil, probes).Discover(context.Background(), Config{
		Range:   "10.0.0.1-4",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.Incomplete)
	assert.Empty(t, result.Hosts)
}

// slowNames answers DNS immediately for the addresses in fast and otherwise
// blocks until ctx ends or a second passes.
type slowNames struct {
	fast map[netip.Addr]string
}

func (s slowNames) ResolveHostname(ctx context.Context, addr netip.Addr, _ time.Duration) (string, bool) {
	if name, ok := s.fast[addr]; ok {
		return name, true
	}
	return s.block(ctx)
}

func (s slowNames) ResolveMdns(ctx context.Context, _ netip.Addr, _ time.Duration) (string, bool) {
	return s.block(ctx)
}

func (slowNames) block(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
	return "", false
}

func reachable(context.Context, netip.Addr) (probe.PingResult, error) {
	return probe.PingResult{Reachable: true}, nil
}

func TestDiscoverEnrichmentHonorsBudget(t *testing.T) {
	named := netip.MustParseAddr("10.0.0.1")
	tests := []struct {
		name  string
		fast  map[netip.Addr]string
		names map[netip.Addr]string
	}{
		{name: "all lookups slow"},
		{
			name:  "fast answer kept",
			fast:  map[netip.Addr]string{named: "nas.lan"},
			names: map[netip.Addr]string{named: "nas.lan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probes := quietProbes()
			probes.Pinger = pingFunc(reachable)
			probes.DNS = slowNames{fast: tt.fast}
			probes.MDNS = slowNames{}

			budget := 200 * time.Millisecond
			start := time.Now()
			result, err := NewEngine(nil, probes).Discover(context.Background(), Config{
				Range:           "10.0.0.1-4",
				Timeout:         budget,
				HostnameTimeout: time.Second,
			})
			elapsed := time.Since(start)

			require.NoError(t, err)
			assert.Less(t, elapsed, 3*budget)
			assert.True(t, result.Incomplete)
			require.Len(t, result.Hosts, 4)
			for _, h := range result.Hosts {
				assert.Equal(t, tt.names[h.Addr], h.Name, h.Addr.String())
			}
		})
	}
}

type browserFunc func(ctx context.Context) (map[netip.Addr][]string, error)

func (f browserFunc) BrowseServices(ctx context.Context, _ time.Duration) (map[netip.Addr][]string, error) {
	return f(ctx)
}

func TestDiscoverAttachesAdvertisedServices(t *testing.T) {
	printer := netip.MustParseAddr("10.0.0.2")
	tests := []struct {
		name    string
		browser probe.ServiceBrowser
		want    []string
	}{
		{
			name: "advertised",
			browser: browserFunc(func(context.Context) (map[netip.Addr][]string, error) {
				return map[netip.Addr][]string{
					printer:                         {"_ipp._tcp", "_printer._tcp"},
					netip.MustParseAddr("10.9.9.9"): {"_ssh._tcp"},
				}, nil
			}),
			want: []string{"_ipp._tcp", "_printer._tcp"},
		},
		{
			name: "browse failure is ignored",
			browser: browserFunc(func(context.Context) (map[netip.Addr][]string, error) {
				return nil, errors.NewScanError(errors.CodeUnavailableCapability, "no multicast")
			}),
		},
		{name: "browsing disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probes := quietProbes()
			probes.Pinger = pingFunc(func(_ context.Context, addr netip.Addr) (probe.PingResult, error) {
				return probe.PingResult{Reachable: addr == printer}, nil
			})
			probes.Services = tt.browser

			result, err := NewEngine(nil, probes).Discover(context.Background(), Config{
				Range:   "10.0.0.1-4",
				Timeout: 5 * time.Second,
			})
			require.NoError(t, err)
			assert.False(t, result.Incomplete)
			assert.Empty(t, result.Warnings)
			require.Len(t, result.Hosts, 1)
			assert.Equal(t, tt.want, result.Hosts[0].Advertised)
		})
	}
}

func TestDiscoverEmptyRange(t *testing.T) {
	rec := &events.Recorder{}
	engine := NewEngine(nil, quietProbes())
	engine.SetPublisher(rec)

	result, err := engine.Discover(context.Background(), Config{})
	require.NoError(t, err)
	assert.Empty(t, result.Hosts)
	assert.NotNil(t, result.Hosts)
	assert.Zero(t, result.Candidates)
	assert.Equal(t, []string{events.DiscoveryStarted, events.DiscoveryComplete}, rec.Types())
}

func TestDiscoverAutoRange(t *testing.T) {
	t.Run("no usable interface", func(t *testing.T) {
		engine := NewEngine(staticReader{err: errors.ErrNoUsableInterface()}, quietProbes())
		_, err := engine.Discover(context.Background(), Config{AutoRange: true})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeUnavailableInterface))
	})

	t.Run("derives primary network", func(t *testing.T) {
		nc := &netctx.Context{Interfaces: []netctx.Interface{{
			Name: "eth0", Up: true,
			Addresses: []netip.Prefix{netip.MustParsePrefix("10.9.8.7/30")},
		}}}
		engine := NewEngine(staticReader{nc: nc}, quietProbes())
		result, err := engine.Discover(context.Background(), Config{AutoRange: true, DisableTCPFallback: true})
		require.NoError(t, err)
		assert.Equal(t, "10.9.8.4/30", result.Range)
		assert.Equal(t, 2, result.Candidates)
	})
}

func TestDiscoverRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{name: "negative ping timeout", cfg: Config{PingTimeout: -time.Second}, field: "ping_timeout"},
		{name: "negative threads", cfg: Config{Threads: -1}, field: "threads"},
		{name: "unknown policy", cfg: Config{HostnamePolicy: "prefer-netbios"}, field: "hostname_policy"},
		{name: "bad fallback port", cfg: Config{TCPFallbackPorts: []int{0}}, field: "tcp_fallback_ports"},
		{name: "malformed range", cfg: Config{Range: "10.0.0.300"}, field: "range"},
		{name: "oversized range", cfg: Config{Range: "10.0.0.0/20", MaxCandidates: 1024}, field: "range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probes := quietProbes()
			probes.Pinger = pingFunc(func(context.Context, netip.Addr) (probe.PingResult, error) {
				t.Error("probed with an invalid configuration")
				return probe.PingResult{}, nil
			})

			result, err := NewEngine(nil, probes).Discover(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Nil(t, result)

			var cfgErr *errors.ConfigError
			require.True(t, stderrors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestDiscoverPublishesEvents(t *testing.T) {
	rec := &events.Recorder{}
	probes := quietProbes()
	probes.Pinger = pingFunc(func(_ context.Context, addr netip.Addr) (probe.PingResult, error) {
		return probe.PingResult{Reachable: addr == netip.MustParseAddr("10.0.0.1")}, nil
	})
	probes.Neighbors = staticNeighbors{entries: map[netip.Addr]net.HardwareAddr{
		netip.MustParseAddr("10.0.0.1"): {0x02, 0, 0, 0, 0, 1},
	}}

	engine := NewEngine(nil, probes)
	engine.SetPublisher(rec)
	_, err := engine.Discover(context.Background(), Config{Range: "10.0.0.1", DisableTCPFallback: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.DiscoveryStarted,
		events.HostFound,
		events.HostEnriched,
		events.DiscoveryComplete,
	}, rec.Types(), "a host confirmed twice is announced once")
}

func TestConfigBudget(t *testing.T) {
	cfg := DefaultConfig().withDefaults()

	small := cfg.budget(10)
	large := cfg.budget(1000)
	assert.Greater(t, large, small)
	assert.GreaterOrEqual(t, small, 10*time.Second)

	cfg.Timeout = 3 * time.Second
	assert.Equal(t, 3*time.Second, cfg.budget(1000))
}
