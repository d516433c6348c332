package probe

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

// SweepResult is what a bulk ping backend learned about one live host.
type SweepResult struct {
	Addr     netip.Addr
	MAC      net.HardwareAddr
	Vendor   string
	Hostname string
}

// Sweeper confirms liveness for many addresses in one run.
type Sweeper interface {
	Sweep(ctx context.Context, addrs []netip.Addr, timeout time.Duration) (map[netip.Addr]SweepResult, error)
}

// NmapSweeper is the bulk ping backend built on nmap host discovery. When
// run with privileges on the local segment nmap also reports MACs and
// vendors, which feed the neighbor observations.
type NmapSweeper struct{}

// Sweep runs an nmap ping scan over addrs and returns the hosts reported up.
func (s *NmapSweeper) Sweep(ctx context.Context, addrs []netip.Addr, timeout time.Duration) (map[netip.Addr]SweepResult, error) {
	found := make(map[netip.Addr]SweepResult)
	if len(addrs) == 0 {
		return found, nil
	}

	scanner, err := nmap.NewScanner(ctx, buildSweepOptions(addrs, timeout)...)
	if err != nil {
		if stderrors.Is(err, nmap.ErrNmapNotInstalled) {
			return nil, errors.ErrUnavailableCapability("nmap", err)
		}
		return nil, errors.WrapScanError(errors.CodeScanFailed, "failed to create nmap scanner", err)
	}

	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		logging.Debug("nmap sweep completed with warnings", "warnings", *warnings)
	}
	if err != nil {
		if ctx.Err() != nil {
			return found, nil
		}
		return nil, errors.WrapScanError(errors.CodeScanFailed, "nmap sweep failed", err)
	}

	for i := range result.Hosts {
		if res, ok := convertNmapHost(&result.Hosts[i]); ok {
			found[res.Addr] = res
		}
	}
	return found, nil
}

// buildSweepOptions picks a timing template from the per-host timeout.
func buildSweepOptions(addrs []netip.Addr, timeout time.Duration) []nmap.Option {
	targets := make([]string, len(addrs))
	for i, addr := range addrs {
		targets[i] = addr.String()
	}

	options := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
	}

	switch {
	case timeout <= 2*time.Second:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case timeout <= 5*time.Second:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	default:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}
	return options
}

func convertNmapHost(host *nmap.Host) (SweepResult, bool) {
	if host.Status.State != "up" {
		return SweepResult{}, false
	}

	var res SweepResult
	for _, addr := range host.Addresses {
		switch addr.AddrType {
		case "ipv4", "ipv6":
			if parsed, err := netip.ParseAddr(addr.Addr); err == nil {
				res.Addr = parsed
			}
		case "mac":
			if mac, err := net.ParseMAC(addr.Addr); err == nil {
				res.MAC = mac
				res.Vendor = addr.Vendor
			}
		}
	}
	if !res.Addr.IsValid() {
		return SweepResult{}, false
	}
	if len(host.Hostnames) > 0 {
		res.Hostname = host.Hostnames[0].Name
	}
	return res, true
}
