package netctx

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
)

const routeTable = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
wlan0	00000000	FE01A8C0	0003	0	0	600	00000000	0	0	0
eth0	00000000	0101A8C0	0003	0	0	100	00000000	0	0	0
eth0	0001A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func staticInterfaces(ifaces ...Interface) func() ([]Interface, error) {
	return func() ([]Interface, error) { return ifaces, nil }
}

func newTestReader(t *testing.T, ifaces ...Interface) (*Reader, string) {
	t.Helper()
	dir := t.TempDir()
	return &Reader{
		ListInterfaces:     staticInterfaces(ifaces...),
		RoutePath:          writeFile(t, dir, "route", routeTable),
		ResolvPath:         writeFile(t, dir, "resolv.conf", "nameserver 192.168.1.1\nnameserver 1.1.1.1\nsearch lan\n"),
		UpstreamResolvPath: filepath.Join(dir, "missing"),
		SysNetPath:         filepath.Join(dir, "sys"),
	}, dir
}

func eth0() Interface {
	return Interface{
		Name:         "eth0",
		HardwareAddr: "aa:bb:cc:dd:ee:ff",
		Up:           true,
		Addresses: []netip.Prefix{
			netip.MustParsePrefix("192.168.1.23/24"),
			netip.MustParsePrefix("fe80::1/64"),
		},
	}
}

func TestReadFullContext(t *testing.T) {
	reader, dir := newTestReader(t,
		Interface{Name: "lo", Loopback: true, Up: true, Addresses: []netip.Prefix{netip.MustParsePrefix("127.0.0.1/8")}},
		eth0(),
		Interface{Name: "docker0", Up: true, Addresses: []netip.Prefix{netip.MustParsePrefix("172.17.0.1/16")}},
		Interface{Name: "wlan0"},
	)
	writeFile(t, dir, "sys/eth0/carrier", "1\n")

	nc, err := reader.Read(context.Background())
	require.NoError(t, err)

	require.Len(t, nc.Interfaces, 2)
	assert.Equal(t, "eth0", nc.Interfaces[0].Name)
	assert.Equal(t, LinkUp, nc.Interfaces[0].Carrier)
	assert.Equal(t, "wlan0", nc.Interfaces[1].Name)
	assert.Equal(t, LinkDown, nc.Interfaces[1].Carrier)

	assert.Equal(t, netip.MustParseAddr("192.168.1.1"), nc.Gateway)
	assert.Equal(t, "eth0", nc.GatewayInterface)
	assert.True(t, nc.HasGateway())

	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.168.1.1"),
		netip.MustParseAddr("1.1.1.1"),
	}, nc.DNSServers)
	assert.Equal(t, []string{"lan"}, nc.SearchDomains)
	assert.False(t, nc.ReadAt.IsZero())
}

func TestReadNoUsableInterface(t *testing.T) {
	reader, _ := newTestReader(t,
		Interface{Name: "lo", Loopback: true, Up: true},
		Interface{Name: "veth1234", Up: true},
	)

	nc, err := reader.Read(context.Background())
	assert.Nil(t, nc)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailableInterface))
}

func TestReadToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	reader := &Reader{
		ListInterfaces: staticInterfaces(Interface{Name: "eth0", Up: true}),
		RoutePath:      filepath.Join(dir, "route"),
		ResolvPath:     filepath.Join(dir, "resolv.conf"),
		SysNetPath:     filepath.Join(dir, "sys"),
	}

	nc, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, nc.HasGateway())
	assert.Empty(t, nc.DNSServers)
	assert.Equal(t, LinkUnknown, nc.Interfaces[0].Carrier)
}

func TestReadFollowsSystemdStub(t *testing.T) {
	reader, dir := newTestReader(t, eth0())
	reader.ResolvPath = writeFile(t, dir, "stub.conf", "nameserver 127.0.0.53\nsearch home.arpa\n")
	reader.UpstreamResolvPath = writeFile(t, dir, "upstream.conf", "nameserver 9.9.9.9\n")

	nc, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("9.9.9.9")}, nc.DNSServers)
	assert.Equal(t, []string{"home.arpa"}, nc.SearchDomains)
}

func TestReadCanceled(t *testing.T) {
	reader, _ := newTestReader(t, eth0())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reader.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContextPrimaryAndNetworks(t *testing.T) {
	nc := &Context{
		Interfaces: []Interface{
			{Name: "eth1", Up: false, Addresses: []netip.Prefix{netip.MustParsePrefix("10.9.0.5/16")}},
			{Name: "wlan0", Up: true, Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.7/24")}},
			eth0(),
		},
		GatewayInterface: "eth0",
	}

	primary, ok := nc.Primary()
	require.True(t, ok)
	assert.Equal(t, "eth0", primary.Name)

	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/24"),
		netip.MustParsePrefix("192.168.1.0/24"),
	}, nc.LocalNetworks())

	nc.GatewayInterface = ""
	primary, ok = nc.Primary()
	require.True(t, ok)
	assert.Equal(t, "wlan0", primary.Name)

	empty := &Context{Interfaces: []Interface{{Name: "eth0", Up: true}}}
	_, ok = empty.Primary()
	assert.False(t, ok)
}

func TestUsable(t *testing.T) {
	tests := []struct {
		iface Interface
		want  bool
	}{
		{Interface{Name: "eth0"}, true},
		{Interface{Name: "wlp3s0"}, true},
		{Interface{Name: "lo", Loopback: true}, false},
		{Interface{Name: "docker0"}, false},
		{Interface{Name: "br-1a2b"}, false},
		{Interface{Name: "virbr0"}, false},
		{Interface{Name: "cni0"}, false},
		{Interface{Name: "flannel.1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.iface.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, Usable(tt.iface))
		})
	}
}

func TestParseHexIPv4(t *testing.T) {
	addr, ok := parseHexIPv4("0101A8C0")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", addr.String())

	_, ok = parseHexIPv4("zz")
	assert.False(t, ok)
}
