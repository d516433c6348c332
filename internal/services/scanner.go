package services

import (
	"cmp"
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/workers"
)

const (
	DefaultPortTimeout = time.Second
	DefaultThreads     = 130
)

// Detected is the probe outcome for one host and service.
type Detected struct {
	Addr    netip.Addr      `json:"addr"`
	Service Definition      `json:"service"`
	State   probe.PortState `json:"state"`
	Latency time.Duration   `json:"latency"`
}

// HostServices is everything probed on one host, sorted by port.
type HostServices struct {
	Addr       netip.Addr `json:"addr"`
	Name       string     `json:"name,omitempty"`
	Services   []Detected `json:"services"`
	DeviceType DeviceType `json:"device_type,omitempty"`
	// Complete is set once every definition was attempted.
	Complete bool `json:"complete"`
}

// Open returns the open services.
func (h HostServices) Open() []Detected {
	var out []Detected
	for _, d := range h.Services {
		if d.State == probe.PortOpen {
			out = append(out, d)
		}
	}
	return out
}

// Result is the outcome of a service scan. Hosts are sorted by address.
type Result struct {
	Hosts      []HostServices `json:"hosts"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	Incomplete bool           `json:"incomplete"`
}

// Host returns the services of the host with the given address.
func (r *Result) Host(addr netip.Addr) (HostServices, bool) {
	for _, h := range r.Hosts {
		if h.Addr == addr {
			return h, true
		}
	}
	return HostServices{}, false
}

// Config controls a service scan.
type Config struct {
	PortTimeout time.Duration `json:"port_timeout"`
	Threads     int           `json:"threads"`
	// Catalog defaults to DefaultCatalog.
	Catalog   []Definition `json:"catalog,omitempty"`
	ProbeRate float64      `json:"probe_rate"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PortTimeout < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", "port_timeout", c.PortTimeout)
	}
	if c.Threads < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", "threads", c.Threads)
	}
	if c.ProbeRate < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "must not be negative", "probe_rate", c.ProbeRate)
	}
	for _, d := range c.Catalog {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.PortTimeout == 0 {
		c.PortTimeout = DefaultPortTimeout
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Catalog == nil {
		c.Catalog = DefaultCatalog()
	}
	return c
}

// HostDone is the payload of the services.host.completed event.
type HostDone struct {
	Addr     netip.Addr `json:"addr"`
	Open     int        `json:"open"`
	Complete bool       `json:"complete"`
}

// Scanner probes discovered hosts for catalog services.
type Scanner struct {
	prober    probe.PortProber
	publisher events.Publisher
	logger    *logging.Logger
}

// NewScanner creates a scanner. A nil prober uses TCP connect.
func NewScanner(prober probe.PortProber) *Scanner {
	if prober == nil {
		prober = probe.TCPProber{}
	}
	return &Scanner{
		prober:    prober,
		publisher: events.Discard,
		logger:    logging.Default().WithComponent("services"),
	}
}

// SetPublisher sets where progress events go.
func (s *Scanner) SetPublisher(p events.Publisher) {
	s.publisher = events.OrDiscard(p)
}

// Scan probes every catalog service on the hosts of disc, or on only the
// given addresses when any are passed. Every address in only must belong to
// disc. Cancellation returns what was probed so far with Incomplete set.
func (s *Scanner) Scan(ctx context.Context, disc *discovery.Result, cfg Config, only ...netip.Addr) (*Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hosts, err := selectHosts(disc, only)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tracker := newTracker(hosts, len(cfg.Catalog), s.publisher)

	jobs := make([]workers.Job, 0, len(hosts)*len(cfg.Catalog))
	for _, h := range hosts {
		for _, def := range cfg.Catalog {
			jobs = append(jobs, &portJob{
				addr:    h.Addr,
				def:     def,
				timeout: cfg.PortTimeout,
				prober:  s.prober,
				tracker: tracker,
			})
		}
	}

	if len(jobs) > 0 {
		size := min(cfg.Threads, len(jobs))
		for _, r := range workers.Run(ctx, workers.Config{Size: size, QueueSize: size, RateLimit: cfg.ProbeRate}, jobs) {
			if r.Error != nil && !r.Skipped {
				s.logger.ErrorScan("Service probe failed", r.JobID, r.Error)
			}
		}
	}

	result := &Result{
		Hosts:     tracker.results(hosts),
		StartedAt: start,
		Duration:  time.Since(start),
	}
	for _, h := range result.Hosts {
		if !h.Complete {
			result.Incomplete = true
		}
	}
	if ctx.Err() != nil {
		result.Incomplete = true
	}

	metrics.GetGlobalMetrics().ObserveServiceScan(result.Duration)
	s.publisher.Publish(events.ServiceScanFinish, result)
	s.logger.Info("Service scan finished",
		"hosts", len(result.Hosts),
		"incomplete", result.Incomplete,
		"duration", result.Duration)
	return result, nil
}

// selectHosts resolves the hosts to scan, de-duplicated and in address order.
func selectHosts(disc *discovery.Result, only []netip.Addr) ([]discovery.Host, error) {
	if disc == nil {
		disc = &discovery.Result{}
	}
	if len(only) == 0 {
		return slices.Clone(disc.Hosts), nil
	}

	var hosts []discovery.Host
	seen := make(map[netip.Addr]bool, len(only))
	for _, addr := range only {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		h, ok := disc.Host(addr)
		if !ok {
			return nil, errors.NewScanErrorWithTarget(errors.CodeTargetInvalid,
				"address is not a discovered host", addr.String())
		}
		hosts = append(hosts, h)
	}
	slices.SortFunc(hosts, func(a, b discovery.Host) int { return a.Addr.Compare(b.Addr) })
	return hosts, nil
}

// portJob probes one service on one host. Its outcome goes to the tracker.
type portJob struct {
	addr    netip.Addr
	def     Definition
	timeout time.Duration
	prober  probe.PortProber
	tracker *tracker
}

func (j *portJob) ID() string   { return netip.AddrPortFrom(j.addr, uint16(j.def.Port)).String() }
func (j *portJob) Type() string { return "service_probe" }

func (j *portJob) Execute(ctx context.Context) error {
	res, err := j.prober.Probe(ctx, j.addr, j.def.Port, j.timeout)
	if ctx.Err() != nil {
		// Abandoned probes are not attempts.
		return nil
	}
	if err != nil {
		j.tracker.attempted(j.addr, nil)
		return err
	}
	j.tracker.attempted(j.addr, &Detected{
		Addr:    j.addr,
		Service: j.def,
		State:   res.State,
		Latency: res.Latency,
	})
	return nil
}

// tracker collects detections per host and announces completed hosts.
type tracker struct {
	total     int
	publisher events.Publisher

	mu       sync.Mutex
	detected map[netip.Addr][]Detected
	pending  map[netip.Addr]int
}

func newTracker(hosts []discovery.Host, total int, publisher events.Publisher) *tracker {
	t := &tracker{
		total:     total,
		publisher: publisher,
		detected:  make(map[netip.Addr][]Detected, len(hosts)),
		pending:   make(map[netip.Addr]int, len(hosts)),
	}
	for _, h := range hosts {
		t.pending[h.Addr] = total
	}
	return t
}

func (t *tracker) attempted(addr netip.Addr, d *Detected) {
	t.mu.Lock()
	if d != nil {
		t.detected[addr] = append(t.detected[addr], *d)
	}
	t.pending[addr]--
	done := t.pending[addr] == 0
	open := 0
	for _, x := range t.detected[addr] {
		if x.State == probe.PortOpen {
			open++
		}
	}
	t.mu.Unlock()

	if d != nil {
		metrics.IncrementServicesDetected(string(d.State))
		metrics.GetGlobalMetrics().IncrementServicesProbed(string(d.State))
		if d.State == probe.PortOpen {
			t.publisher.Publish(events.ServiceDetected, *d)
		}
	}
	if done {
		t.publisher.Publish(events.HostScanComplete, HostDone{Addr: addr, Open: open, Complete: true})
	}
}

func (t *tracker) results(hosts []discovery.Host) []HostServices {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HostServices, 0, len(hosts))
	for _, h := range hosts {
		detected := slices.Clone(t.detected[h.Addr])
		slices.SortFunc(detected, func(a, b Detected) int {
			if c := cmp.Compare(a.Service.Port, b.Service.Port); c != 0 {
				return c
			}
			return cmp.Compare(a.Service.Name, b.Service.Name)
		})
		hs := HostServices{
			Addr:     h.Addr,
			Name:     h.Name,
			Services: detected,
			Complete: t.pending[h.Addr] == 0,
		}
		if hs.Services == nil {
			hs.Services = []Detected{}
		}
		hs.DeviceType = GuessDeviceType(h, hs.Open())
		out = append(out, hs)
	}
	return out
}
