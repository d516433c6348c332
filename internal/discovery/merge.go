package discovery

import (
	"net/netip"
	"slices"
	"strings"
	"time"
)

// Source names the strategy that confirmed a host.
type Source string

const (
	SourcePing     Source = "ping"
	SourceNeighbor Source = "neighbor"
	SourceTCP      Source = "tcp"
)

// HostnameSource names where a hostname came from.
type HostnameSource string

const (
	HostnameDNS  HostnameSource = "dns"
	HostnameMDNS HostnameSource = "mdns"
)

// Hostname is one resolved name of a host.
type Hostname struct {
	Name   string         `json:"name"`
	Source HostnameSource `json:"source"`
}

// Host is a device confirmed alive on the scanned range.
type Host struct {
	Addr       netip.Addr    `json:"addr"`
	MAC        string        `json:"mac,omitempty"`
	Vendor     string        `json:"vendor,omitempty"`
	Hostnames  []Hostname    `json:"hostnames,omitempty"`
	Name       string        `json:"name,omitempty"`
	Sources    []Source      `json:"sources"`
	Latency    time.Duration `json:"latency,omitempty"`
	HasLatency bool          `json:"has_latency"`
	Gateway    bool          `json:"gateway,omitempty"`
	// Advertised lists the DNS-SD service types the host announces.
	Advertised []string `json:"advertised,omitempty"`
}

// HasSource reports whether s confirmed the host.
func (h Host) HasSource(s Source) bool {
	return slices.Contains(h.Sources, s)
}

// Observation is a single strategy's evidence that an address is alive.
type Observation struct {
	Addr       netip.Addr
	Source     Source
	MAC        string
	Vendor     string
	Hostname   string
	Latency    time.Duration
	HasLatency bool
}

// Merge folds observations into one host per address. Sources are unioned,
// neighbor-table MACs win over MACs reported by other strategies, the lowest
// latency is kept, and the output is sorted by address. The result does not
// depend on observation order.
func Merge(observations []Observation) []Host {
	byAddr := make(map[netip.Addr]*Host)
	macFromNeighbor := make(map[netip.Addr]bool)

	for _, o := range observations {
		if !o.Addr.IsValid() {
			continue
		}
		h, ok := byAddr[o.Addr]
		if !ok {
			h = &Host{Addr: o.Addr}
			byAddr[o.Addr] = h
		}

		if !h.HasSource(o.Source) {
			h.Sources = append(h.Sources, o.Source)
		}

		if mac := strings.ToLower(o.MAC); mac != "" {
			switch {
			case o.Source == SourceNeighbor && !macFromNeighbor[o.Addr]:
				h.MAC = mac
				macFromNeighbor[o.Addr] = true
			case o.Source == SourceNeighbor && mac < h.MAC:
				h.MAC = mac
			case !macFromNeighbor[o.Addr] && (h.MAC == "" || mac < h.MAC):
				h.MAC = mac
			}
		}
		if o.Vendor != "" && (h.Vendor == "" || o.Vendor < h.Vendor) {
			h.Vendor = o.Vendor
		}
		if o.Hostname != "" {
			addHostname(h, Hostname{Name: o.Hostname, Source: HostnameDNS})
		}
		if o.HasLatency && (!h.HasLatency || o.Latency < h.Latency) {
			h.Latency = o.Latency
			h.HasLatency = true
		}
	}

	hosts := make([]Host, 0, len(byAddr))
	for _, h := range byAddr {
		slices.Sort(h.Sources)
		hosts = append(hosts, *h)
	}
	slices.SortFunc(hosts, func(a, b Host) int { return a.Addr.Compare(b.Addr) })
	return hosts
}

func addHostname(h *Host, name Hostname) {
	name.Name = strings.TrimSuffix(name.Name, ".")
	if name.Name == "" || slices.Contains(h.Hostnames, name) {
		return
	}
	h.Hostnames = append(h.Hostnames, name)
	slices.SortStableFunc(h.Hostnames, func(a, b Hostname) int {
		if a.Source != b.Source {
			return strings.Compare(string(a.Source), string(b.Source))
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// HostnamePolicy decides which resolved name becomes Host.Name.
type HostnamePolicy string

const (
	PreferMDNS HostnamePolicy = "prefer-mdns"
	PreferDNS  HostnamePolicy = "prefer-dns"
)

// Valid reports whether p is a known policy. The empty policy is valid and
// means PreferMDNS.
func (p HostnamePolicy) Valid() bool {
	return p == "" || p == PreferMDNS || p == PreferDNS
}

// ChooseName picks the display name from hostnames.
func (p HostnamePolicy) ChooseName(hostnames []Hostname) string {
	first, second := HostnameMDNS, HostnameDNS
	if p == PreferDNS {
		first, second = HostnameDNS, HostnameMDNS
	}
	for _, want := range []HostnameSource{first, second} {
		for _, h := range hostnames {
			if h.Source == want {
				return h.Name
			}
		}
	}
	return ""
}
