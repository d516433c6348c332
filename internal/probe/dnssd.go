package probe

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/metrics"
)

const serviceEnumeration = "_services._dns-sd._udp.local."

// BrowseTypes are the DNS-SD service types queried by name in addition to
// the service enumeration query. Not every responder answers enumeration.
var BrowseTypes = []string{
	"_ipp._tcp",
	"_ipps._tcp",
	"_printer._tcp",
	"_pdl-datastream._tcp",
	"_googlecast._tcp",
	"_airplay._tcp",
	"_raop._tcp",
	"_rtsp._tcp",
	"_smb._tcp",
	"_afpovertcp._tcp",
	"_ssh._tcp",
	"_http._tcp",
}

// DNSSDBrowser lists the DNS-SD services advertised on the local link. It
// asks for the service enumeration and for each of Types over multicast DNS
// and collects answers until the timeout.
type DNSSDBrowser struct {
	// Types defaults to BrowseTypes.
	Types []string
	// Targets override where queries are sent, mostly for tests.
	Targets []string
}

// BrowseServices returns the advertised service types, such as "_ipp._tcp",
// keyed by the address of the advertising host. Each list is sorted.
func (b *DNSSDBrowser) BrowseServices(ctx context.Context, timeout time.Duration) (map[netip.Addr][]string, error) {
	timeout = validTimeout(timeout, defaultMdnsTimeout)
	start := time.Now()

	found, err := b.browse(ctx, timeout)
	outcome := "absent"
	switch {
	case err != nil:
		outcome = "error"
	case len(found) > 0:
		outcome = "resolved"
	}
	metrics.RecordProbe("dnssd", outcome, time.Since(start))
	return found, err
}

func (b *DNSSDBrowser) browse(ctx context.Context, timeout time.Duration) (map[netip.Addr][]string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeUnavailableCapability, "cannot open mDNS socket", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	types := b.Types
	if len(types) == 0 {
		types = BrowseTypes
	}
	names := make([]string, 0, len(types)+1)
	names = append(names, serviceEnumeration)
	for _, t := range types {
		names = append(names, dns.Fqdn(t+".local"))
	}

	targets := b.Targets
	if len(targets) == 0 {
		targets = []string{mdnsGroup}
	}
	sent := false
	for _, target := range targets {
		udpAddr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			continue
		}
		for _, name := range names {
			msg := new(dns.Msg)
			msg.SetQuestion(name, dns.TypePTR)
			msg.RecursionDesired = false
			packed, err := msg.Pack()
			if err != nil {
				continue
			}
			if _, err := conn.WriteTo(packed, udpAddr); err == nil {
				sent = true
			}
		}
	}
	if !sent {
		return nil, errors.NewScanError(errors.CodeNetworkUnreachable, "no mDNS query could be sent")
	}

	found := make(map[netip.Addr][]string)
	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			// The deadline ends the browse; what arrived so far is the result.
			break
		}
		var sender netip.Addr
		if udpAddr, ok := from.(*net.UDPAddr); ok {
			sender, _ = netip.AddrFromSlice(udpAddr.IP)
		}
		for addr, advertised := range parseAdvertisement(buf[:n], sender.Unmap()) {
			for _, t := range advertised {
				if !slices.Contains(found[addr], t) {
					found[addr] = append(found[addr], t)
				}
			}
		}
	}
	for addr := range found {
		slices.Sort(found[addr])
	}
	return found, nil
}

// parseAdvertisement extracts the service types in one mDNS response. They
// are attributed to the A records the responder includes, or to sender when
// it includes none.
func parseAdvertisement(raw []byte, sender netip.Addr) map[netip.Addr][]string {
	resp := new(dns.Msg)
	if err := resp.Unpack(raw); err != nil || !resp.Response {
		return nil
	}

	var types []string
	var addrs []netip.Addr
	records := append(append([]dns.RR{}, resp.Answer...), resp.Extra...)
	for _, rr := range records {
		switch v := rr.(type) {
		case *dns.PTR:
			owner := strings.ToLower(v.Hdr.Name)
			if owner == serviceEnumeration {
				types = appendType(types, v.Ptr)
			} else if isServiceType(owner) {
				types = appendType(types, owner)
			}
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(v.A); ok {
				addrs = append(addrs, addr.Unmap())
			}
		}
	}
	if len(types) == 0 {
		return nil
	}

	if len(addrs) == 0 {
		if !sender.IsValid() {
			return nil
		}
		addrs = []netip.Addr{sender}
	}
	out := make(map[netip.Addr][]string, len(addrs))
	for _, addr := range addrs {
		out[addr] = types
	}
	return out
}

// isServiceType reports whether name looks like "_ipp._tcp.local.".
func isServiceType(name string) bool {
	labels := dns.SplitDomainName(name)
	if len(labels) != 3 || labels[2] != "local" {
		return false
	}
	return strings.HasPrefix(labels[0], "_") && (labels[1] == "_tcp" || labels[1] == "_udp")
}

func appendType(types []string, name string) []string {
	name = strings.ToLower(strings.TrimSuffix(trimDot(name), ".local"))
	if name == "" || slices.Contains(types, name) {
		return types
	}
	return append(types, name)
}
