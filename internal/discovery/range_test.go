package discovery

import (
	stderrors "errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/netctx"
)

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []netip.Addr
	}{
		{name: "empty", spec: "", want: nil},
		{name: "whitespace only", spec: "  ,  ", want: nil},
		{name: "single address", spec: "192.168.1.7", want: addrs("192.168.1.7")},
		{name: "slash 30 drops network and broadcast", spec: "10.0.1.0/30", want: addrs("10.0.1.1", "10.0.1.2")},
		{name: "slash 31 keeps both", spec: "10.0.1.0/31", want: addrs("10.0.1.0", "10.0.1.1")},
		{name: "slash 32", spec: "10.0.1.9/32", want: addrs("10.0.1.9")},
		{name: "unmasked cidr", spec: "10.0.1.2/30", want: addrs("10.0.1.1", "10.0.1.2")},
		{name: "last octet range", spec: "192.168.1.10-12", want: addrs("192.168.1.10", "192.168.1.11", "192.168.1.12")},
		{name: "full range across octets", spec: "10.0.0.254-10.0.1.1", want: addrs("10.0.0.254", "10.0.0.255", "10.0.1.0", "10.0.1.1")},
		{
			name: "mixed list is sorted and de-duplicated",
			spec: "10.0.0.9, 10.0.0.1-2 10.0.0.2",
			want: addrs("10.0.0.1", "10.0.0.2", "10.0.0.9"),
		},
		{name: "ipv6 prefix", spec: "fd00::/126", want: addrs("fd00::", "fd00::1", "fd00::2", "fd00::3")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.spec, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRangeSlash24(t *testing.T) {
	got, err := ParseRange("192.168.1.0/24", 0)
	require.NoError(t, err)
	require.Len(t, got, 254)
	assert.Equal(t, netip.MustParseAddr("192.168.1.1"), got[0])
	assert.Equal(t, netip.MustParseAddr("192.168.1.254"), got[253])
}

func TestParseRangeErrors(t *testing.T) {
	tests := []struct {
		name string
		spec string
		max  int
	}{
		{name: "garbage", spec: "not-an-address"},
		{name: "bad cidr", spec: "10.0.0.0/33"},
		{name: "bad octet", spec: "10.0.0.1-300"},
		{name: "reversed", spec: "10.0.0.9-3"},
		{name: "mixed families", spec: "10.0.0.1-fd00::1"},
		{name: "too large prefix", spec: "10.0.0.0/16"},
		{name: "too large ipv6", spec: "fd00::/64"},
		{name: "list exceeds cap", spec: "10.0.0.1-10, 10.0.1.1-10", max: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.spec, tt.max)
			require.Error(t, err)
			assert.Nil(t, got)

			var cfgErr *errors.ConfigError
			require.True(t, stderrors.As(err, &cfgErr))
			assert.Equal(t, "range", cfgErr.Field)
			assert.True(t, errors.IsCode(err, errors.CodeValidation))
		})
	}
}

func TestParseRangeIdempotent(t *testing.T) {
	first, err := ParseRange("10.0.0.5, 10.0.0.0/29", 0)
	require.NoError(t, err)

	var parts []string
	for _, a := range first {
		parts = append(parts, a.String())
	}
	again, err := ParseRange(strings.Join(parts, ","), 0)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestAutoRange(t *testing.T) {
	iface := func(prefix string) netctx.Interface {
		return netctx.Interface{
			Name: "eth0", Up: true, Carrier: netctx.LinkUp,
			Addresses: []netip.Prefix{netip.MustParsePrefix(prefix)},
		}
	}

	tests := []struct {
		name string
		nc   *netctx.Context
		want string
		ok   bool
	}{
		{name: "nil context", nc: nil},
		{name: "no interfaces", nc: &netctx.Context{}},
		{name: "slash 24", nc: &netctx.Context{Interfaces: []netctx.Interface{iface("192.168.1.23/24")}}, want: "192.168.1.0/24", ok: true},
		{name: "narrowed slash 16", nc: &netctx.Context{Interfaces: []netctx.Interface{iface("10.1.2.3/16")}}, want: "10.1.2.0/24", ok: true},
		{name: "slash 28 kept", nc: &netctx.Context{Interfaces: []netctx.Interface{iface("10.1.2.18/28")}}, want: "10.1.2.16/28", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AutoRange(tt.nc)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
