// Package probe holds the single-target measurement primitives used by the
// diagnostics, discovery and service scanning engines: ICMP echo, TCP
// connect, reverse DNS and mDNS name resolution, the neighbor table, MAC
// vendor lookup, and the public reachability checks.
//
// Network-level failures are outcomes, not errors. A probe only returns an
// error for malformed input or a missing system capability.
package probe

//go:generate mockgen -destination=mocks/mock_probe.go -package=mocks . Pinger,PortProber,HostnameResolver,MdnsResolver,NeighborReader

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// PortState classifies a TCP connect attempt.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
)

// PingResult is the outcome of an ICMP echo probe. RTT is meaningful only
// when HasRTT is set.
type PingResult struct {
	Reachable bool          `json:"reachable"`
	RTT       time.Duration `json:"rtt"`
	HasRTT    bool          `json:"has_rtt"`
}

// PortResult is the outcome of a TCP connect probe.
type PortResult struct {
	State   PortState     `json:"state"`
	Latency time.Duration `json:"latency"`
}

// Pinger sends ICMP echo requests.
type Pinger interface {
	Ping(ctx context.Context, addr netip.Addr, timeout time.Duration) (PingResult, error)
}

// PortProber classifies a TCP port.
type PortProber interface {
	Probe(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) (PortResult, error)
}

// HostnameResolver resolves an address to a name through DNS.
type HostnameResolver interface {
	ResolveHostname(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool)
}

// MdnsResolver resolves an address to a name through multicast DNS.
type MdnsResolver interface {
	ResolveMdns(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool)
}

// ServiceBrowser lists DNS-SD service types advertised per host.
type ServiceBrowser interface {
	BrowseServices(ctx context.Context, timeout time.Duration) (map[netip.Addr][]string, error)
}

// NeighborReader returns the kernel's IP to MAC neighbor entries.
type NeighborReader interface {
	ReadNeighbors(ctx context.Context) (map[netip.Addr]net.HardwareAddr, error)
}

// VendorLookup maps a MAC address to its manufacturer.
type VendorLookup interface {
	Lookup(mac net.HardwareAddr) (string, bool)
}

// CommandRunner runs an external program and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// validTimeout clamps non-positive timeouts to fallback.
func validTimeout(timeout, fallback time.Duration) time.Duration {
	if timeout <= 0 {
		return fallback
	}
	return timeout
}
