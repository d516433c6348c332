package services

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/probe"
)

func openService(addr string, def Definition) Detected {
	return Detected{Addr: netip.MustParseAddr(addr), Service: def, State: probe.PortOpen}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		name string
		d    Detected
		url  string
		ok   bool
	}{
		{name: "http default port", d: openService("10.0.0.1", tcp("HTTP", 80, "", HintHTTP)), url: "http://10.0.0.1", ok: true},
		{name: "http alt port", d: openService("10.0.0.1", tcp("HTTP Alt", 8080, "", HintHTTP)), url: "http://10.0.0.1:8080", ok: true},
		{name: "https", d: openService("10.0.0.1", tcp("HTTPS", 443, "", HintHTTPS)), url: "https://10.0.0.1", ok: true},
		{name: "ssh keeps port", d: openService("10.0.0.1", tcp("SSH", 22, "", HintSSH)), url: "ssh://10.0.0.1:22", ok: true},
		{name: "smb share root", d: openService("10.0.0.1", tcp("SMB", 445, "", HintSMB)), url: "smb://10.0.0.1/", ok: true},
		{name: "ftp", d: openService("10.0.0.1", tcp("FTP", 21, "", HintFTP)), url: "ftp://10.0.0.1:21", ok: true},
		{name: "rdp", d: openService("10.0.0.1", tcp("RDP", 3389, "", HintRDP)), url: "rdp://10.0.0.1:3389", ok: true},
		{name: "vnc", d: openService("10.0.0.1", tcp("VNC", 5900, "", HintVNC)), url: "vnc://10.0.0.1:5900", ok: true},
		{name: "ipv6 brackets", d: openService("fd00::5", tcp("HTTP Alt", 8080, "", HintHTTP)), url: "http://[fd00::5]:8080", ok: true},
		{name: "no hint", d: openService("10.0.0.1", tcp("Redis", 6379, "", ""))},
		{
			name: "closed service",
			d:    Detected{Addr: netip.MustParseAddr("10.0.0.1"), Service: tcp("HTTP", 80, "", HintHTTP), State: probe.PortClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, ok := ActionFor(tt.d)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.url, action.URL)
			if ok {
				assert.Equal(t, tt.d.Service.Port, action.Port)
				assert.Equal(t, tt.d.Service.Hint, action.Scheme)
				assert.NotEmpty(t, action.Label)
			}
		})
	}
}

func TestGuessDeviceType(t *testing.T) {
	host := discovery.Host{Addr: netip.MustParseAddr("192.168.1.50")}
	ports := func(ps ...int) []Detected {
		var out []Detected
		for _, p := range ps {
			out = append(out, openService("192.168.1.50", tcp("svc", p, "", "")))
		}
		return out
	}

	advertising := func(types ...string) discovery.Host {
		return discovery.Host{Addr: host.Addr, Advertised: types}
	}

	tests := []struct {
		name string
		host discovery.Host
		open []Detected
		want DeviceType
	}{
		{name: "client", host: host, open: ports(), want: DeviceUnknown},
		{name: "gateway", host: discovery.Host{Addr: host.Addr, Gateway: true}, open: ports(80), want: DeviceRouter},
		{name: "printer", host: host, open: ports(80, 631), want: DevicePrinter},
		{name: "database", host: host, open: ports(22, 5432), want: DeviceDatabase},
		{name: "mail", host: host, open: ports(25, 993), want: DeviceMail},
		{name: "nas", host: host, open: ports(445, 5001), want: DeviceNAS},
		{name: "camera", host: host, open: ports(554), want: DeviceCamera},
		{name: "development", host: host, open: ports(22, 3000), want: DeviceDevelopment},
		{name: "linux server", host: host, open: ports(22, 80, 443, 8080, 8443), want: DeviceLinuxServer},
		{name: "web only", host: host, open: ports(80), want: DeviceUnknown},
		{name: "loopback", host: discovery.Host{Addr: netip.MustParseAddr("127.0.0.1"), Gateway: true}, open: ports(80), want: DeviceUnknown},
		{name: "advertised printer", host: advertising("_ipp._tcp", "_http._tcp"), open: ports(80), want: DevicePrinter},
		{name: "advertised cast target", host: advertising("_googlecast._tcp"), open: ports(), want: DeviceMedia},
		{name: "advertised camera", host: advertising("_rtsp._tcp"), open: ports(80), want: DeviceCamera},
		{name: "advertised file share", host: advertising("_smb._tcp", "_ssh._tcp"), open: ports(22), want: DeviceNAS},
		{name: "advertisement beats ports", host: advertising("_airplay._tcp"), open: ports(22, 5432), want: DeviceMedia},
		{name: "generic advertisement", host: advertising("_ssh._tcp", "_http._tcp"), open: ports(80), want: DeviceUnknown},
		{name: "gateway advertising", host: discovery.Host{Addr: host.Addr, Gateway: true, Advertised: []string{"_ipp._tcp"}}, want: DeviceRouter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GuessDeviceType(tt.host, tt.open))
		})
	}
}
