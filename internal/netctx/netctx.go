// Package netctx reads the local machine's network context: interfaces and
// their addresses, link state, the default gateway, and configured DNS
// servers. Every read produces a fresh immutable snapshot.
package netctx

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

const (
	defaultRoutePath   = "/proc/net/route"
	defaultResolvPath  = "/etc/resolv.conf"
	systemdResolvPath  = "/run/systemd/resolve/resolv.conf"
	defaultSysNetPath  = "/sys/class/net"
	systemdStubAddress = "127.0.0.53"
)

// Interface name prefixes for container and virtual bridges that never lead
// to the attached LAN.
var virtualPrefixes = []string{"docker", "br-", "veth", "virbr", "cni", "flannel"}

// LinkState is the physical or wireless carrier state of an interface.
type LinkState string

const (
	LinkUp      LinkState = "up"
	LinkDown    LinkState = "down"
	LinkUnknown LinkState = "unknown"
)

// Interface describes one network interface.
type Interface struct {
	Name         string         `json:"name"`
	Index        int            `json:"index"`
	HardwareAddr string         `json:"mac,omitempty"`
	MTU          int            `json:"mtu"`
	Up           bool           `json:"up"`
	Loopback     bool           `json:"loopback"`
	Carrier      LinkState      `json:"carrier"`
	Addresses    []netip.Prefix `json:"addresses"`
}

// IPv4 returns the first IPv4 address on the interface.
func (i Interface) IPv4() (netip.Prefix, bool) {
	for _, p := range i.Addresses {
		if p.Addr().Is4() {
			return p, true
		}
	}
	return netip.Prefix{}, false
}

// RoutableAddresses returns addresses that are not link-local.
func (i Interface) RoutableAddresses() []netip.Prefix {
	var out []netip.Prefix
	for _, p := range i.Addresses {
		if p.Addr().IsLinkLocalUnicast() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Context is a snapshot of the local network configuration.
type Context struct {
	Interfaces       []Interface  `json:"interfaces"`
	Gateway          netip.Addr   `json:"gateway"`
	GatewayInterface string       `json:"gateway_interface,omitempty"`
	DNSServers       []netip.Addr `json:"dns_servers"`
	SearchDomains    []string     `json:"search_domains,omitempty"`
	ReadAt           time.Time    `json:"read_at"`
}

// HasGateway reports whether a default IPv4 gateway is configured.
func (c *Context) HasGateway() bool {
	return c.Gateway.IsValid()
}

// Primary returns the interface most likely attached to the LAN: the
// gateway interface if it is up with an IPv4 address, otherwise the first
// such interface.
func (c *Context) Primary() (Interface, bool) {
	var fallback *Interface
	for i := range c.Interfaces {
		iface := &c.Interfaces[i]
		if !iface.Up {
			continue
		}
		if _, ok := iface.IPv4(); !ok {
			continue
		}
		if iface.Name == c.GatewayInterface {
			return *iface, true
		}
		if fallback == nil {
			fallback = iface
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Interface{}, false
}

// LocalNetworks returns the masked IPv4 networks of interfaces that are up.
func (c *Context) LocalNetworks() []netip.Prefix {
	seen := make(map[netip.Prefix]bool)
	var out []netip.Prefix
	for _, iface := range c.Interfaces {
		if !iface.Up {
			continue
		}
		for _, p := range iface.Addresses {
			if !p.Addr().Is4() || p.Addr().IsLinkLocalUnicast() {
				continue
			}
			masked := p.Masked()
			if !seen[masked] {
				seen[masked] = true
				out = append(out, masked)
			}
		}
	}
	return out
}

// Reader reads network context from the operating system. Zero-value
// fields fall back to the Linux defaults.
type Reader struct {
	// ListInterfaces enumerates interfaces. Defaults to net.Interfaces.
	ListInterfaces func() ([]Interface, error)
	// RoutePath is the IPv4 routing table in /proc/net/route format.
	RoutePath string
	// ResolvPath is the resolver configuration file.
	ResolvPath string
	// UpstreamResolvPath replaces the systemd-resolved stub when present.
	UpstreamResolvPath string
	// SysNetPath is the sysfs directory holding per-interface carrier files.
	SysNetPath string
}

// NewReader returns a Reader using the system defaults.
func NewReader() *Reader {
	return &Reader{}
}

// Read returns a fresh network context snapshot. It fails with
// CodeUnavailableInterface when no usable interface exists. A missing
// routing table or resolver file yields no gateway or no DNS servers.
func (r *Reader) Read(ctx context.Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list := r.ListInterfaces
	if list == nil {
		list = systemInterfaces
	}
	all, err := list()
	if err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeUnavailableInterface, "Failed to list network interfaces", err)
	}

	nc := &Context{ReadAt: time.Now()}
	for _, iface := range all {
		if !Usable(iface) {
			continue
		}
		if iface.Carrier == "" {
			iface.Carrier = r.carrier(iface)
		}
		nc.Interfaces = append(nc.Interfaces, iface)
	}
	if len(nc.Interfaces) == 0 {
		return nil, errors.ErrNoUsableInterface()
	}

	nc.Gateway, nc.GatewayInterface = readDefaultGateway(orDefault(r.RoutePath, defaultRoutePath))
	nc.DNSServers, nc.SearchDomains = r.readResolvers()

	logging.Default().WithComponent("netctx").Debug("Network context read",
		"interfaces", len(nc.Interfaces),
		"gateway", nc.Gateway,
		"dns_servers", len(nc.DNSServers))

	return nc, nil
}

// Usable reports whether an interface could lead to the attached LAN.
// Interfaces that are up but unaddressed are still usable.
func Usable(iface Interface) bool {
	if iface.Loopback {
		return false
	}
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(iface.Name, prefix) {
			return false
		}
	}
	return true
}

func (r *Reader) carrier(iface Interface) LinkState {
	path := filepath.Join(orDefault(r.SysNetPath, defaultSysNetPath), iface.Name, "carrier")
	data, err := os.ReadFile(path)
	if err != nil {
		// Reading carrier fails with EINVAL on interfaces that are down.
		if !iface.Up {
			return LinkDown
		}
		return LinkUnknown
	}
	if strings.TrimSpace(string(data)) == "1" {
		return LinkUp
	}
	return LinkDown
}

func (r *Reader) readResolvers() ([]netip.Addr, []string) {
	cfg, err := dns.ClientConfigFromFile(orDefault(r.ResolvPath, defaultResolvPath))
	if err != nil {
		return nil, nil
	}

	servers := parseServers(cfg.Servers)
	if len(servers) == 1 && servers[0].String() == systemdStubAddress {
		if upstream, uerr := dns.ClientConfigFromFile(orDefault(r.UpstreamResolvPath, systemdResolvPath)); uerr == nil {
			if parsed := parseServers(upstream.Servers); len(parsed) > 0 {
				servers = parsed
			}
		}
	}
	return servers, cfg.Search
}

func parseServers(raw []string) []netip.Addr {
	var out []netip.Addr
	for _, s := range raw {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		out = append(out, addr.WithZone(""))
	}
	return out
}

// readDefaultGateway parses /proc/net/route. Addresses in the table are
// little-endian hex.
func readDefaultGateway(path string) (netip.Addr, string) {
	f, err := os.Open(path)
	if err != nil {
		return netip.Addr{}, ""
	}
	defer f.Close()

	type route struct {
		gw     netip.Addr
		iface  string
		metric int
	}
	var routes []route

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[1] != "00000000" || fields[7] != "00000000" {
			continue
		}
		gw, ok := parseHexIPv4(fields[2])
		if !ok || gw.IsUnspecified() {
			continue
		}
		metric, _ := strconv.Atoi(fields[6])
		routes = append(routes, route{gw: gw, iface: fields[0], metric: metric})
	}
	if len(routes) == 0 {
		return netip.Addr{}, ""
	}

	sort.SliceStable(routes, func(i, j int) bool { return routes[i].metric < routes[j].metric })
	return routes[0].gw, routes[0].iface
}

func parseHexIPv4(s string) (netip.Addr, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return netip.Addr{}, false
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], binary.LittleEndian.Uint32(raw))
	return netip.AddrFrom4(b), true
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name:         iface.Name,
			Index:        iface.Index,
			HardwareAddr: iface.HardwareAddr.String(),
			MTU:          iface.MTU,
			Up:           iface.Flags&net.FlagUp != 0,
			Loopback:     iface.Flags&net.FlagLoopback != 0,
		}

		addrs, err := iface.Addrs()
		if err == nil {
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				addr, ok := netip.AddrFromSlice(ipnet.IP)
				if !ok {
					continue
				}
				ones, _ := ipnet.Mask.Size()
				entry.Addresses = append(entry.Addresses, netip.PrefixFrom(addr.Unmap(), ones))
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
