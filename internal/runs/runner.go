package runs

import (
	"context"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/diagnostics"
	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/netctx"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/services"
)

// ContextReader supplies the network context snapshot shared by the engines.
type ContextReader interface {
	Read(ctx context.Context) (*netctx.Context, error)
}

// ScanResult is a discovery followed by a service scan of its hosts.
type ScanResult struct {
	Discovery *discovery.Result `json:"discovery"`
	Services  *services.Result  `json:"services"`
	Actions   []services.Action `json:"actions"`
}

// Runner builds engines from a configuration and runs them once per call.
type Runner struct {
	Config            *config.Config
	Reader            ContextReader
	DiagnosticsProbes diagnostics.Probes
	DiscoveryProbes   discovery.Probes
	Prober            probe.PortProber
}

// NewRunner creates a runner using the system network context and the
// probes selected by cfg.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{
		Config:            cfg,
		Reader:            netctx.NewReader(),
		DiagnosticsProbes: diagnostics.DefaultProbes(),
		DiscoveryProbes:   cfg.DiscoveryProbes(),
	}
}

// Diagnose runs the connectivity checks.
func (r *Runner) Diagnose(ctx context.Context, pub events.Publisher) (*diagnostics.Report, error) {
	engine, err := diagnostics.New(r.Config.DiagnosticsConfig(), r.Reader, r.DiagnosticsProbes)
	if err != nil {
		return nil, err
	}
	engine.SetPublisher(pub)
	return engine.Run(ctx), nil
}

// Discover finds live hosts in rangeSpec, or in the configured range when
// rangeSpec is empty.
func (r *Runner) Discover(ctx context.Context, rangeSpec string, pub events.Publisher) (*discovery.Result, error) {
	cfg := r.Config.DiscoveryConfig()
	if rangeSpec != "" {
		cfg.Range = rangeSpec
	}
	engine := discovery.NewEngine(r.Reader, r.DiscoveryProbes)
	engine.SetPublisher(pub)
	return engine.Discover(ctx, cfg)
}

// Scan discovers hosts and probes each for the configured services.
func (r *Runner) Scan(ctx context.Context, rangeSpec string, pub events.Publisher) (*ScanResult, error) {
	disc, err := r.Discover(ctx, rangeSpec, pub)
	if err != nil {
		return nil, err
	}

	scanner := services.NewScanner(r.Prober)
	scanner.SetPublisher(pub)
	svc, err := scanner.Scan(ctx, disc, r.Config.ServicesConfig())
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Discovery: disc, Services: svc, Actions: []services.Action{}}
	for _, host := range svc.Hosts {
		for _, d := range host.Open() {
			if action, ok := services.ActionFor(d); ok {
				result.Actions = append(result.Actions, action)
			}
		}
	}
	return result, nil
}

// Diagnostics adapts Diagnose to a run.
func (r *Runner) Diagnostics() Func {
	return func(ctx context.Context, pub events.Publisher) (any, error) {
		report, err := r.Diagnose(ctx, pub)
		if err != nil {
			return nil, err
		}
		return report, nil
	}
}

// Discovery adapts Discover to a run.
func (r *Runner) Discovery(rangeSpec string) Func {
	return func(ctx context.Context, pub events.Publisher) (any, error) {
		result, err := r.Discover(ctx, rangeSpec, pub)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// Services adapts Scan to a run.
func (r *Runner) Services(rangeSpec string) Func {
	return func(ctx context.Context, pub events.Publisher) (any, error) {
		result, err := r.Scan(ctx, rangeSpec, pub)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
