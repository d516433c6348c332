// Package discovery finds the live devices on a local address range. Ping,
// the kernel neighbor table and a TCP connect fallback each contribute
// observations; these are merged per address and then enriched with
// hostnames, vendors and the gateway flag.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/netctx"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/workers"
)

// Result is the outcome of a discovery run. Hosts are sorted by address.
type Result struct {
	Range      string        `json:"range"`
	Candidates int           `json:"candidates"`
	Hosts      []Host        `json:"hosts"`
	Warnings   []string      `json:"warnings,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Incomplete bool          `json:"incomplete"`
}

// Host returns the host with the given address.
func (r *Result) Host(addr netip.Addr) (Host, bool) {
	for _, h := range r.Hosts {
		if h.Addr == addr {
			return h, true
		}
	}
	return Host{}, false
}

// Started is the payload of the discovery.started event.
type Started struct {
	Range      string `json:"range"`
	Candidates int    `json:"candidates"`
}

// Found is the payload of the discovery.host.found event.
type Found struct {
	Addr   netip.Addr `json:"addr"`
	Source Source     `json:"source"`
}

// ContextReader supplies the network context used for AutoRange, the DNS
// servers and the gateway flag.
type ContextReader interface {
	Read(ctx context.Context) (*netctx.Context, error)
}

// Probes are the primitives a discovery run uses. Nil fields fall back to
// the system implementations, except DNS which defaults to a resolver over
// the context's DNS servers and Services which disables service browsing.
type Probes struct {
	// Sweeper replaces per-address pings with a bulk backend when set.
	Sweeper   probe.Sweeper
	Pinger    probe.Pinger
	Prober    probe.PortProber
	Neighbors probe.NeighborReader
	DNS       probe.HostnameResolver
	MDNS      probe.MdnsResolver
	Vendors   probe.VendorLookup
	Services  probe.ServiceBrowser
}

// Engine runs discovery.
type Engine struct {
	probes    Probes
	reader    ContextReader
	publisher events.Publisher
	logger    *logging.Logger
}

// NewEngine creates a discovery engine.
func NewEngine(reader ContextReader, probes Probes) *Engine {
	if probes.Pinger == nil {
		probes.Pinger = probe.NewExecPinger(0)
	}
	if probes.Prober == nil {
		probes.Prober = probe.TCPProber{}
	}
	if probes.Neighbors == nil {
		probes.Neighbors = &probe.ProcNeighborReader{}
	}
	if probes.MDNS == nil {
		probes.MDNS = &probe.MDNSResolver{}
	}
	if probes.Vendors == nil {
		probes.Vendors = probe.OpenVendorTable()
	}
	return &Engine{
		probes:    probes,
		reader:    reader,
		publisher: events.Discard,
		logger:    logging.Default().WithComponent("discovery"),
	}
}

// SetPublisher sets where progress events go.
func (e *Engine) SetPublisher(p events.Publisher) {
	e.publisher = events.OrDiscard(p)
}

// Discover runs the strategies over the configured range and returns every
// confirmed host. Cancellation and an exhausted budget are not errors: the
// hosts confirmed so far come back with Incomplete set.
func (e *Engine) Discover(ctx context.Context, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var nc *netctx.Context
	var ncErr error
	if e.reader != nil {
		nc, ncErr = e.reader.Read(ctx)
		if ncErr != nil {
			e.logger.Debug("Network context unavailable", "error", ncErr)
		}
	}

	spec := strings.TrimSpace(cfg.Range)
	if spec == "" && cfg.AutoRange {
		auto, ok := AutoRange(nc)
		if !ok {
			if ncErr != nil {
				return nil, ncErr
			}
			return nil, errors.ErrNoUsableInterface()
		}
		spec = auto
	}

	candidates, err := ParseRange(spec, cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{Range: spec, Candidates: len(candidates), Hosts: []Host{}, StartedAt: start}
	e.publisher.Publish(events.DiscoveryStarted, Started{Range: spec, Candidates: len(candidates)})
	e.logger.InfoDiscovery("Discovery started", spec, "candidates", len(candidates))

	if len(candidates) > 0 {
		if err := e.run(ctx, cfg, nc, candidates, result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	metrics.RecordDiscoveryDuration(spec, result.Duration)
	metrics.GetGlobalMetrics().ObserveDiscovery(result.Incomplete, result.Duration)
	e.publisher.Publish(events.DiscoveryComplete, result)
	e.logger.InfoDiscovery("Discovery finished", spec,
		"hosts", len(result.Hosts),
		"incomplete", result.Incomplete,
		"duration", result.Duration)
	return result, nil
}

func (e *Engine) run(ctx context.Context, cfg Config, nc *netctx.Context, candidates []netip.Addr, result *Result) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.budget(len(candidates)))
	defer cancel()

	col := newCollector(candidates, e.publisher)

	var pingErr, neighborErr error
	var g errgroup.Group
	g.Go(func() error {
		pingErr = e.pingSweep(runCtx, cfg, candidates, col)
		return nil
	})
	g.Go(func() error {
		neighborErr = e.readNeighbors(runCtx, col)
		return nil
	})
	_ = g.Wait()

	if pingErr != nil {
		e.logger.Warn("Ping sweep unavailable", "error", pingErr)
		result.Warnings = append(result.Warnings, fmt.Sprintf("ping sweep skipped: %v", pingErr))
	}
	if neighborErr != nil {
		e.logger.Warn("Neighbor table unavailable", "error", neighborErr)
		result.Warnings = append(result.Warnings, fmt.Sprintf("neighbor table skipped: %v", neighborErr))
	}
	if pingErr != nil && neighborErr != nil && cfg.DisableTCPFallback {
		return errors.WrapDiscoveryError(errors.CodeUnavailableCapability,
			"no discovery strategy is available", pingErr)
	}

	if !cfg.DisableTCPFallback && runCtx.Err() == nil {
		e.tcpFallback(runCtx, cfg, col.unconfirmed(candidates), col)
	}

	incomplete := runCtx.Err() != nil
	hosts := Merge(col.snapshot())
	annotate(hosts, nc, e.probes.Vendors, cfg.HostnamePolicy)
	if !incomplete {
		advertised := e.browseServices(runCtx, cfg)
		incomplete = !e.enrich(runCtx, cfg, nc, hosts)
		select {
		case found := <-advertised:
			attachServices(hosts, found)
		case <-runCtx.Done():
			incomplete = true
		}
	}

	result.Hosts = hosts
	result.Incomplete = incomplete || ctx.Err() != nil
	return nil
}

// pingSweep confirms candidates by ICMP echo. It returns an error only when
// the ping capability itself is missing.
func (e *Engine) pingSweep(ctx context.Context, cfg Config, candidates []netip.Addr, col *collector) error {
	if e.probes.Sweeper != nil {
		found, err := e.probes.Sweeper.Sweep(ctx, candidates, cfg.PingTimeout)
		if err != nil {
			if errors.IsCode(err, errors.CodeUnavailableCapability) {
				return err
			}
			e.logger.ErrorDiscovery("Bulk ping sweep failed", cfg.Range, err)
			return nil
		}
		for _, r := range found {
			obs := Observation{Addr: r.Addr, Source: SourcePing, Vendor: r.Vendor, Hostname: r.Hostname}
			if len(r.MAC) > 0 {
				obs.MAC = r.MAC.String()
			}
			col.add(obs)
		}
		return nil
	}

	jobs := make([]workers.Job, len(candidates))
	for i, addr := range candidates {
		jobs[i] = workers.NewFuncJob(addr.String(), "ping", func(ctx context.Context) error {
			res, err := e.probes.Pinger.Ping(ctx, addr, cfg.PingTimeout)
			if err != nil {
				return err
			}
			if res.Reachable {
				col.add(Observation{Addr: addr, Source: SourcePing, Latency: res.RTT, HasLatency: res.HasRTT})
			}
			return nil
		})
	}

	for _, r := range workers.Run(ctx, poolConfig(cfg, len(jobs)), jobs) {
		if r.Error == nil || r.Skipped {
			continue
		}
		if errors.IsCode(r.Error, errors.CodeUnavailableCapability) {
			return r.Error
		}
		e.logger.Debug("Ping failed", "target", r.JobID, "error", r.Error)
	}
	return nil
}

func (e *Engine) readNeighbors(ctx context.Context, col *collector) error {
	entries, err := e.probes.Neighbors.ReadNeighbors(ctx)
	if err != nil {
		return err
	}
	for addr, mac := range entries {
		col.add(Observation{Addr: addr.Unmap(), Source: SourceNeighbor, MAC: mac.String()})
	}
	return nil
}

// tcpFallback connects to the fallback ports of each unconfirmed candidate.
// Any answer, even a refusal, proves the host is alive.
func (e *Engine) tcpFallback(ctx context.Context, cfg Config, targets []netip.Addr, col *collector) {
	if len(targets) == 0 || len(cfg.TCPFallbackPorts) == 0 {
		return
	}

	jobs := make([]workers.Job, len(targets))
	for i, addr := range targets {
		jobs[i] = workers.NewFuncJob(addr.String(), "tcp_fallback", func(ctx context.Context) error {
			for _, port := range cfg.TCPFallbackPorts {
				if ctx.Err() != nil {
					return nil
				}
				res, err := e.probes.Prober.Probe(ctx, addr, port, cfg.PortTimeout)
				if err != nil {
					return err
				}
				if res.State == probe.PortOpen || res.State == probe.PortClosed {
					col.add(Observation{Addr: addr, Source: SourceTCP, Latency: res.Latency, HasLatency: true})
					return nil
				}
			}
			return nil
		})
	}

	for _, r := range workers.Run(ctx, poolConfig(cfg, len(jobs)), jobs) {
		if r.Error != nil && !r.Skipped {
			e.logger.Debug("TCP fallback failed", "target", r.JobID, "error", r.Error)
		}
	}
}

// enrich resolves hostnames for every host within what is left of the run
// budget. Lookups are best effort and bounded by Threads. It reports false
// when the budget ran out, leaving the names resolved so far.
func (e *Engine) enrich(ctx context.Context, cfg Config, nc *netctx.Context, hosts []Host) bool {
	resolver := e.probes.DNS
	if resolver == nil {
		var servers []netip.Addr
		if nc != nil {
			servers = nc.DNSServers
		}
		resolver = probe.NewDNSResolver(servers)
	}

	var g errgroup.Group
	g.SetLimit(cfg.Threads)
	for i := range hosts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.enrichHost(ctx, cfg, resolver, &hosts[i])
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err() == nil
}

type lookup struct {
	name Hostname
	ok   bool
}

// enrichHost runs the DNS and mDNS lookups of one host concurrently. It
// returns when both finish or ctx ends, whichever comes first; lookups still
// in flight then finish on their own.
func (e *Engine) enrichHost(ctx context.Context, cfg Config, resolver probe.HostnameResolver, h *Host) {
	addr := h.Addr
	lookups := make(chan lookup, 2)
	go func() {
		name, ok := resolver.ResolveHostname(ctx, addr, cfg.HostnameTimeout)
		lookups <- lookup{Hostname{Name: name, Source: HostnameDNS}, ok}
	}()
	go func() {
		name, ok := e.probes.MDNS.ResolveMdns(ctx, addr, cfg.HostnameTimeout)
		lookups <- lookup{Hostname{Name: name, Source: HostnameMDNS}, ok}
	}()

	for range 2 {
		select {
		case l := <-lookups:
			if l.ok {
				addHostname(h, l.name)
			}
		case <-ctx.Done():
			h.Name = cfg.HostnamePolicy.ChooseName(h.Hostnames)
			return
		}
	}
	h.Name = cfg.HostnamePolicy.ChooseName(h.Hostnames)
	e.publisher.Publish(events.HostEnriched, *h)
}

// browseServices lists advertised DNS-SD services alongside hostname
// enrichment. Browsing is best effort and failures only log.
func (e *Engine) browseServices(ctx context.Context, cfg Config) <-chan map[netip.Addr][]string {
	out := make(chan map[netip.Addr][]string, 1)
	if e.probes.Services == nil {
		out <- nil
		return out
	}
	go func() {
		found, err := e.probes.Services.BrowseServices(ctx, cfg.HostnameTimeout)
		if err != nil {
			e.logger.Debug("Service browsing unavailable", "error", err)
		}
		out <- found
	}()
	return out
}

func attachServices(hosts []Host, advertised map[netip.Addr][]string) {
	for i := range hosts {
		if types, ok := advertised[hosts[i].Addr]; ok {
			hosts[i].Advertised = types
		}
	}
}

// annotate applies the enrichment that needs no network: vendor, gateway
// flag and a display name from names the strategies already reported.
func annotate(hosts []Host, nc *netctx.Context, vendors probe.VendorLookup, policy HostnamePolicy) {
	for i := range hosts {
		h := &hosts[i]
		if h.Vendor == "" && h.MAC != "" && vendors != nil {
			if mac, err := net.ParseMAC(h.MAC); err == nil {
				if vendor, ok := vendors.Lookup(mac); ok {
					h.Vendor = vendor
				}
			}
		}
		if nc != nil && nc.Gateway.IsValid() && h.Addr == nc.Gateway {
			h.Gateway = true
		}
		h.Name = policy.ChooseName(h.Hostnames)
	}
}

func poolConfig(cfg Config, jobs int) workers.Config {
	size := min(cfg.Threads, jobs)
	return workers.Config{
		Size:      size,
		QueueSize: size,
		RateLimit: cfg.ProbeRate,
	}
}

// collector gathers observations from concurrent strategies. It publishes
// HostFound the first time any strategy confirms an address.
type collector struct {
	inRange   map[netip.Addr]struct{}
	publisher events.Publisher

	mu           sync.Mutex
	observations []Observation
	seen         map[netip.Addr]struct{}
}

func newCollector(candidates []netip.Addr, publisher events.Publisher) *collector {
	inRange := make(map[netip.Addr]struct{}, len(candidates))
	for _, a := range candidates {
		inRange[a] = struct{}{}
	}
	return &collector{
		inRange:   inRange,
		publisher: publisher,
		seen:      make(map[netip.Addr]struct{}),
	}
}

func (c *collector) add(o Observation) {
	if _, ok := c.inRange[o.Addr]; !ok {
		return
	}

	c.mu.Lock()
	c.observations = append(c.observations, o)
	_, known := c.seen[o.Addr]
	c.seen[o.Addr] = struct{}{}
	c.mu.Unlock()

	metrics.IncrementHostsDiscovered(string(o.Source), 1)
	metrics.GetGlobalMetrics().IncrementHostsDiscovered(string(o.Source), 1)
	if !known {
		c.publisher.Publish(events.HostFound, Found{Addr: o.Addr, Source: o.Source})
	}
}

func (c *collector) unconfirmed(candidates []netip.Addr) []netip.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []netip.Addr
	for _, a := range candidates {
		if _, ok := c.seen[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func (c *collector) snapshot() []Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Observation(nil), c.observations...)
}
