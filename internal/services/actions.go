package services

import (
	"net/netip"
	"net/url"
	"strconv"

	"github.com/anstrom/netscope/internal/probe"
)

// Action describes how a user could open a detected service. Nothing here
// launches it; the dispatcher on the outer surface decides what to do.
type Action struct {
	Label  string     `json:"label"`
	Scheme string     `json:"scheme"`
	URL    string     `json:"url"`
	Addr   netip.Addr `json:"addr"`
	Port   int        `json:"port"`
}

// Browser URLs drop the default port; the other schemes keep it explicit.
var defaultPorts = map[string]int{
	HintHTTP:  80,
	HintHTTPS: 443,
}

var actionLabels = map[string]string{
	HintHTTP:  "Open in browser",
	HintHTTPS: "Open in browser",
	HintSSH:   "Connect via SSH",
	HintFTP:   "Browse files",
	HintSMB:   "Browse network share",
	HintRDP:   "Remote desktop",
	HintVNC:   "Remote desktop",
}

// ActionFor returns the access action for an open service with a known
// access hint.
func ActionFor(d Detected) (Action, bool) {
	if d.State != probe.PortOpen || !d.Addr.IsValid() {
		return Action{}, false
	}
	hint := d.Service.Hint
	label, ok := actionLabels[hint]
	if !ok {
		return Action{}, false
	}

	u := url.URL{Scheme: hint, Host: hostPort(d.Addr, d.Service.Port, defaultPorts[hint])}
	if hint == HintSMB {
		// Shares are addressed by host only.
		u.Host = hostPort(d.Addr, 0, 0)
		u.Path = "/"
	}

	return Action{
		Label:  label,
		Scheme: hint,
		URL:    u.String(),
		Addr:   d.Addr,
		Port:   d.Service.Port,
	}, true
}

// hostPort formats the URL authority, omitting the port when it is the
// scheme default.
func hostPort(addr netip.Addr, port, defaultPort int) string {
	host := addr.String()
	if addr.Is6() && !addr.Is4In6() {
		host = "[" + host + "]"
	}
	if port == 0 || port == defaultPort {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}
