package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/diagnostics"
	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/runs"
	"github.com/anstrom/netscope/internal/services"
)

func TestDisplayReport(t *testing.T) {
	report := &diagnostics.Report{
		Steps: []diagnostics.Step{
			{ID: "interface", Label: "Network interface", Status: diagnostics.StatusPassed, Detail: "eth0"},
			{ID: "gateway", Label: "Default gateway", Status: diagnostics.StatusFailed, Tip: "Check the router"},
			{ID: "internet", Label: "Internet", Status: diagnostics.StatusSkipped},
		},
		Outcome:  diagnostics.OutcomeFailed,
		Duration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	displayReport(&buf, report)
	output := buf.String()

	assert.Contains(t, output, "Network interface")
	assert.Contains(t, output, "eth0")
	assert.Contains(t, output, "skipped")
	assert.Contains(t, output, "Tip (Default gateway): Check the router")
	assert.Contains(t, output, "Outcome: failed (1.5s)")
	assert.NotContains(t, output, "[incomplete]")
}

func TestDisplayDiscovery(t *testing.T) {
	result := &discovery.Result{
		Range:      "192.168.1.0/30",
		Candidates: 2,
		Hosts: []discovery.Host{
			{
				Addr:       netip.MustParseAddr("192.168.1.1"),
				Name:       "router.lan",
				MAC:        "aa:bb:cc:dd:ee:ff",
				Vendor:     "Acme",
				Sources:    []discovery.Source{discovery.SourcePing, discovery.SourceNeighbor},
				Latency:    2 * time.Millisecond,
				HasLatency: true,
				Gateway:    true,
			},
		},
		Warnings:   []string{"neighbor table unavailable"},
		Incomplete: true,
	}

	var buf bytes.Buffer
	displayDiscovery(&buf, result)
	output := buf.String()

	assert.Contains(t, output, "router.lan (gateway)")
	assert.Contains(t, output, "ping,neighbor")
	assert.Contains(t, output, "Acme")
	assert.Contains(t, output, "1 hosts up out of 2 addresses in 192.168.1.0/30")
	assert.Contains(t, output, "[incomplete]")
	assert.Contains(t, output, "Warning: neighbor table unavailable")
}

func TestDisplayScan(t *testing.T) {
	addr := netip.MustParseAddr("192.168.1.20")
	ssh := services.Definition{Name: "SFTP/SSH", Port: 22, Protocol: "tcp", Hint: services.HintSSH}
	detected := services.Detected{Addr: addr, Service: ssh, State: probe.PortOpen}
	action, ok := services.ActionFor(detected)
	require.True(t, ok)

	result := &runs.ScanResult{
		Discovery: &discovery.Result{Hosts: []discovery.Host{{Addr: addr, Name: "nas.lan"}}},
		Services: &services.Result{Hosts: []services.HostServices{{
			Addr:       addr,
			Services:   []services.Detected{detected},
			DeviceType: services.DeviceLinuxServer,
		}}},
		Actions: []services.Action{action},
	}

	var buf bytes.Buffer
	displayScan(&buf, result)
	output := buf.String()

	assert.Contains(t, output, "nas.lan")
	assert.Contains(t, output, "linux-server")
	assert.Contains(t, output, "SFTP/SSH/22")
	assert.Contains(t, output, "Actions:")
	assert.Contains(t, output, action.URL)
}

func TestDisplayCatalog(t *testing.T) {
	var buf bytes.Buffer
	displayCatalog(&buf, []services.Definition{{Name: "Plex", Port: 32400, Description: "Media server"}})

	assert.Contains(t, buf.String(), "Plex")
	assert.Contains(t, buf.String(), "32400")
	assert.Contains(t, buf.String(), "tcp")
}

func TestRenderJSON(t *testing.T) {
	orig := jsonOutput
	t.Cleanup(func() { jsonOutput = orig })
	jsonOutput = true

	var buf bytes.Buffer
	called := false
	require.NoError(t, render(&buf, map[string]int{"hosts": 3}, func(_ io.Writer) { called = true }))

	assert.False(t, called)
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 3, decoded["hosts"])
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", formatDuration(1234*time.Millisecond))
	assert.Equal(t, "2.5ms", formatDuration(2512*time.Microsecond))
	assert.Equal(t, "800µs", formatDuration(800*time.Microsecond))
}
