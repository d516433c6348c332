package probe

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/metrics"
)

const (
	mdnsGroup          = "224.0.0.251:5353"
	defaultMdnsTimeout = time.Second
)

// MDNSResolver asks multicast DNS responders for the name of an address.
// Queries go out as legacy unicast from an ephemeral port, so responders
// answer directly to the sender.
type MDNSResolver struct {
	// Targets override where queries are sent, mostly for tests. By default
	// the query goes to the mDNS group and to port 5353 on the host itself.
	Targets []string
}

// ResolveMdns returns the .local name a responder publishes for addr.
func (m *MDNSResolver) ResolveMdns(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool) {
	timeout = validTimeout(timeout, defaultMdnsTimeout)
	start := time.Now()

	name, ok := m.query(ctx, addr, timeout)
	outcome := "absent"
	if ok {
		outcome = "resolved"
	}
	metrics.RecordProbe("mdns", outcome, time.Since(start))
	return name, ok
}

func (m *MDNSResolver) query(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return "", false
	}
	reverse, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", false
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverse, dns.TypePTR)
	msg.RecursionDesired = false
	packed, err := msg.Pack()
	if err != nil {
		return "", false
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return "", false
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	sent := false
	for _, target := range m.targets(addr) {
		udpAddr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			continue
		}
		if _, err := conn.WriteTo(packed, udpAddr); err == nil {
			sent = true
		}
	}
	if !sent {
		return "", false
	}

	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return "", false
		}
		if name, ok := matchPTRResponse(buf[:n], msg.Id, reverse); ok {
			return name, true
		}
	}
}

func (m *MDNSResolver) targets(addr netip.Addr) []string {
	if len(m.Targets) > 0 {
		return m.Targets
	}
	return []string{mdnsGroup, netip.AddrPortFrom(addr, 5353).String()}
}

// matchPTRResponse extracts the PTR target from a response to the query
// with the given id and reverse name.
func matchPTRResponse(raw []byte, id uint16, reverse string) (string, bool) {
	resp := new(dns.Msg)
	if err := resp.Unpack(raw); err != nil || !resp.Response {
		return "", false
	}
	// Some responders zero the ID on multicast answers.
	if resp.Id != id && resp.Id != 0 {
		return "", false
	}

	records := append(append([]dns.RR{}, resp.Answer...), resp.Extra...)
	for _, rr := range records {
		ptr, ok := rr.(*dns.PTR)
		if !ok || !strings.EqualFold(ptr.Hdr.Name, reverse) || ptr.Ptr == "" {
			continue
		}
		return trimDot(ptr.Ptr), true
	}
	return "", false
}
