package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netscope/internal/diagnostics"
	"github.com/anstrom/netscope/internal/discovery"
	"github.com/anstrom/netscope/internal/runs"
	"github.com/anstrom/netscope/internal/services"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON when --json is set, otherwise through table.
func render(w io.Writer, v any, table func(io.Writer)) error {
	if jsonOutput {
		return printJSON(w, v)
	}
	table(w)
	return nil
}

func displayReport(w io.Writer, report *diagnostics.Report) {
	table := tablewriter.NewWriter(w)
	table.Header("Step", "Status", "Detail")
	for _, step := range report.Steps {
		_ = table.Append([]string{step.Label, string(step.Status), step.Detail})
	}
	_ = table.Render()

	for _, step := range report.Steps {
		if step.Status == diagnostics.StatusFailed && step.Tip != "" {
			fmt.Fprintf(w, "Tip (%s): %s\n", step.Label, step.Tip)
		}
	}
	fmt.Fprintf(w, "Outcome: %s (%s)%s\n", report.Outcome, formatDuration(report.Duration), incompleteSuffix(report.Incomplete))
}

func displayDiscovery(w io.Writer, result *discovery.Result) {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Name", "MAC", "Vendor", "Seen By", "Latency")
	for _, h := range result.Hosts {
		name := h.Name
		if h.Gateway {
			name = strings.TrimSpace(name + " (gateway)")
		}
		latency := "-"
		if h.HasLatency {
			latency = formatDuration(h.Latency)
		}
		_ = table.Append([]string{h.Addr.String(), name, h.MAC, h.Vendor, joinSources(h.Sources), latency})
	}
	_ = table.Render()

	fmt.Fprintf(w, "%d hosts up out of %d addresses in %s (%s)%s\n",
		len(result.Hosts), result.Candidates, result.Range, formatDuration(result.Duration),
		incompleteSuffix(result.Incomplete))
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}

func displayScan(w io.Writer, result *runs.ScanResult) {
	names := make(map[string]string)
	if result.Discovery != nil {
		for _, h := range result.Discovery.Hosts {
			names[h.Addr.String()] = h.Name
		}
	}

	table := tablewriter.NewWriter(w)
	table.Header("Address", "Name", "Device", "Open Services")
	if result.Services != nil {
		for _, hs := range result.Services.Hosts {
			var open []string
			for _, d := range hs.Open() {
				open = append(open, d.Service.Name+"/"+strconv.Itoa(d.Service.Port))
			}
			name := hs.Name
			if name == "" {
				name = names[hs.Addr.String()]
			}
			_ = table.Append([]string{hs.Addr.String(), name, string(hs.DeviceType), strings.Join(open, ", ")})
		}
	}
	_ = table.Render()

	if len(result.Actions) > 0 {
		fmt.Fprintln(w, "Actions:")
		actions := tablewriter.NewWriter(w)
		actions.Header("Service", "URL")
		for _, a := range result.Actions {
			_ = actions.Append([]string{a.Label, a.URL})
		}
		_ = actions.Render()
	}
}

func displayCatalog(w io.Writer, catalog []services.Definition) {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Port", "Protocol", "Description")
	for _, d := range catalog {
		protocol := d.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		_ = table.Append([]string{d.Name, strconv.Itoa(d.Port), protocol, d.Description})
	}
	_ = table.Render()
}

func joinSources(sources []discovery.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.String()
	}
}

func incompleteSuffix(incomplete bool) string {
	if incomplete {
		return " [incomplete]"
	}
	return ""
}
