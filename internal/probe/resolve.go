package probe

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/metrics"
)

const defaultResolveTimeout = 2 * time.Second

// DNSResolver performs reverse and forward lookups against explicit DNS
// servers, falling back to the system resolver when none are configured.
type DNSResolver struct {
	// Servers are queried together; the first answer wins.
	Servers []netip.Addr
	// Port overrides the DNS port, mostly for tests.
	Port string
	// Fallback is used when Servers is empty. Defaults to net.DefaultResolver.
	Fallback *net.Resolver
}

// NewDNSResolver creates a resolver for the given servers.
func NewDNSResolver(servers []netip.Addr) *DNSResolver {
	return &DNSResolver{Servers: servers}
}

// ResolveHostname returns the PTR name of addr without the trailing dot.
// timeout bounds the whole lookup, however many servers are configured.
func (r *DNSResolver) ResolveHostname(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool) {
	timeout = validTimeout(timeout, defaultResolveTimeout)
	start := time.Now()

	name, ok := r.resolvePTR(ctx, addr, timeout)
	outcome := "absent"
	if ok {
		outcome = "resolved"
	}
	metrics.RecordProbe("dns_ptr", outcome, time.Since(start))
	return name, ok
}

func (r *DNSResolver) resolvePTR(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool) {
	reverse, err := dns.ReverseAddr(addr.Unmap().String())
	if err != nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if len(r.Servers) == 0 {
		names, err := r.fallback().LookupAddr(ctx, addr.Unmap().String())
		if err != nil || len(names) == 0 {
			return "", false
		}
		return trimDot(names[0]), true
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverse, dns.TypePTR)
	in, ok := r.exchange(ctx, msg)
	if !ok {
		return "", false
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok && ptr.Ptr != "" {
			return trimDot(ptr.Ptr), true
		}
	}
	return "", false
}

// LookupHost resolves name to its A and AAAA addresses. timeout bounds the
// whole lookup.
func (r *DNSResolver) LookupHost(ctx context.Context, name string, timeout time.Duration) ([]netip.Addr, error) {
	if name == "" {
		return nil, errors.NewScanError(errors.CodeValidation, "empty host name")
	}
	ctx, cancel := context.WithTimeout(ctx, validTimeout(timeout, defaultResolveTimeout))
	defer cancel()

	if len(r.Servers) == 0 {
		addrs, err := r.fallback().LookupNetIP(ctx, "ip", name)
		if err != nil {
			return nil, errors.WrapScanErrorWithTarget(errors.CodeNetworkUnreachable, "name resolution failed", name, err)
		}
		return addrs, nil
	}

	qtypes := []uint16{dns.TypeA, dns.TypeAAAA}
	answers := make([][]netip.Addr, len(qtypes))
	var wg sync.WaitGroup
	for i, qtype := range qtypes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := new(dns.Msg)
			msg.SetQuestion(dns.Fqdn(name), qtype)
			if in, ok := r.exchange(ctx, msg); ok {
				answers[i] = answerAddrs(in)
			}
		}()
	}
	wg.Wait()

	var out []netip.Addr
	for _, a := range answers {
		out = append(out, a...)
	}
	if len(out) == 0 {
		return nil, errors.NewScanErrorWithTarget(errors.CodeNetworkUnreachable, "name did not resolve", name)
	}
	return out, nil
}

// exchange sends msg to every server at once and returns the first
// successful response. ctx carries the lookup deadline.
func (r *DNSResolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	port := r.Port
	if port == "" {
		port = "53"
	}

	client := new(dns.Client)
	responses := make(chan *dns.Msg, len(r.Servers))
	for _, server := range r.Servers {
		go func() {
			in, _, err := client.ExchangeContext(ctx, msg.Copy(), net.JoinHostPort(server.String(), port))
			if err != nil || in == nil || in.Rcode != dns.RcodeSuccess {
				in = nil
			}
			responses <- in
		}()
	}

	for range r.Servers {
		select {
		case in := <-responses:
			if in != nil {
				return in, true
			}
		case <-ctx.Done():
			return nil, false
		}
	}
	return nil, false
}

func (r *DNSResolver) fallback() *net.Resolver {
	if r.Fallback != nil {
		return r.Fallback
	}
	return net.DefaultResolver
}

func answerAddrs(in *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range in.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

func trimDot(name string) string {
	return strings.TrimSuffix(name, ".")
}
