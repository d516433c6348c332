package probe

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
)

// startDNSServer serves handler on a random localhost UDP port.
func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dns server did not start")
	}
	return strconv.Itoa(pc.LocalAddr().(*net.UDPAddr).Port)
}

func lanZone(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	q := req.Question[0]
	switch {
	case q.Qtype == dns.TypePTR && q.Name == "23.1.168.192.in-addr.arpa.":
		rr, _ := dns.NewRR("23.1.168.192.in-addr.arpa. 60 IN PTR nas.lan.")
		resp.Answer = append(resp.Answer, rr)
	case q.Qtype == dns.TypeA && q.Name == "kernel.org.":
		rr, _ := dns.NewRR("kernel.org. 60 IN A 139.178.84.217")
		resp.Answer = append(resp.Answer, rr)
	case q.Qtype == dns.TypeAAAA && q.Name == "kernel.org.":
		rr, _ := dns.NewRR("kernel.org. 60 IN AAAA 2604:1380:4641:c500::1")
		resp.Answer = append(resp.Answer, rr)
	default:
		resp.Rcode = dns.RcodeNameError
	}
	_ = w.WriteMsg(resp)
}

func TestDNSResolverResolveHostname(t *testing.T) {
	port := startDNSServer(t, lanZone)
	resolver := &DNSResolver{Servers: []netip.Addr{netip.MustParseAddr("127.0.0.1")}, Port: port}

	name, ok := resolver.ResolveHostname(context.Background(), netip.MustParseAddr("192.168.1.23"), time.Second)
	require.True(t, ok)
	assert.Equal(t, "nas.lan", name)

	_, ok = resolver.ResolveHostname(context.Background(), netip.MustParseAddr("192.168.1.99"), time.Second)
	assert.False(t, ok)
}

func TestDNSResolverLookupHost(t *testing.T) {
	port := startDNSServer(t, lanZone)
	resolver := &DNSResolver{Servers: []netip.Addr{netip.MustParseAddr("127.0.0.1")}, Port: port}

	addrs, err := resolver.LookupHost(context.Background(), "kernel.org", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("139.178.84.217"),
		netip.MustParseAddr("2604:1380:4641:c500::1"),
	}, addrs)

	_, err = resolver.LookupHost(context.Background(), "missing.example", time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNetworkUnreachable))

	_, err = resolver.LookupHost(context.Background(), "", time.Second)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestDNSResolverSkipsDeadServer(t *testing.T) {
	port := startDNSServer(t, lanZone)
	// 127.0.0.2 has nothing listening on the test port.
	resolver := &DNSResolver{
		Servers: []netip.Addr{netip.MustParseAddr("127.0.0.2"), netip.MustParseAddr("127.0.0.1")},
		Port:    port,
	}

	name, ok := resolver.ResolveHostname(context.Background(), netip.MustParseAddr("192.168.1.23"), 300*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "nas.lan", name)
}

// silentServers opens UDP sockets that never answer and returns their
// shared port. Each address gets its own socket on that port.
func silentServers(t *testing.T, hosts ...string) string {
	t.Helper()
	first, err := net.ListenPacket("udp4", hosts[0]+":0")
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	port := strconv.Itoa(first.LocalAddr().(*net.UDPAddr).Port)

	for _, host := range hosts[1:] {
		pc, err := net.ListenPacket("udp4", net.JoinHostPort(host, port))
		if err != nil {
			t.Skipf("cannot bind %s: %v", host, err)
		}
		t.Cleanup(func() { pc.Close() })
	}
	return port
}

func TestDNSResolverTimeoutBoundsWholeLookup(t *testing.T) {
	port := silentServers(t, "127.0.0.1", "127.0.0.2", "127.0.0.3")
	resolver := &DNSResolver{
		Servers: []netip.Addr{
			netip.MustParseAddr("127.0.0.1"),
			netip.MustParseAddr("127.0.0.2"),
			netip.MustParseAddr("127.0.0.3"),
		},
		Port: port,
	}
	timeout := 200 * time.Millisecond

	start := time.Now()
	_, ok := resolver.ResolveHostname(context.Background(), netip.MustParseAddr("192.168.1.23"), timeout)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*timeout)

	start = time.Now()
	_, err := resolver.LookupHost(context.Background(), "kernel.org", timeout)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*timeout)
}
