package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/metrics"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	maxIPResponseBytes = 256
)

// Public services that echo the caller's address as plain text.
var (
	DefaultIPv4Services = []string{
		"https://api.ipify.org",
		"https://checkip.amazonaws.com",
		"https://ipinfo.io/ip",
	}
	DefaultIPv6Services = []string{
		"https://api6.ipify.org",
		"https://ipv6.icanhazip.com",
	}
)

// ExternalIP is the public address as seen from the internet. Either field
// may be invalid when no service answered for that family.
type ExternalIP struct {
	V4 netip.Addr `json:"v4"`
	V6 netip.Addr `json:"v6"`
}

// Found reports whether any public address was learned.
func (e ExternalIP) Found() bool {
	return e.V4.IsValid() || e.V6.IsValid()
}

// ExternalIPClient asks public echo services for the external address.
type ExternalIPClient struct {
	V4Services []string
	V6Services []string
	// Transport overrides the HTTP transport, mostly for tests. When nil,
	// each family dials only over its own network.
	Transport http.RoundTripper
}

// NewExternalIPClient creates a client using the default services.
func NewExternalIPClient() *ExternalIPClient {
	return &ExternalIPClient{
		V4Services: DefaultIPv4Services,
		V6Services: DefaultIPv6Services,
	}
}

// Lookup queries each family's services in order. The first valid answer
// of the right family wins.
func (c *ExternalIPClient) Lookup(ctx context.Context, timeout time.Duration) ExternalIP {
	timeout = validTimeout(timeout, defaultHTTPTimeout)
	return ExternalIP{
		V4: c.firstAnswer(ctx, c.client("tcp4", timeout), c.V4Services, netip.Addr.Is4),
		V6: c.firstAnswer(ctx, c.client("tcp6", timeout), c.V6Services, isPlainIPv6),
	}
}

func isPlainIPv6(a netip.Addr) bool {
	return a.Is6() && !a.Is4In6()
}

func (c *ExternalIPClient) client(network string, timeout time.Duration) *http.Client {
	transport := c.Transport
	if transport == nil {
		dialer := &net.Dialer{Timeout: timeout}
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			TLSHandshakeTimeout: timeout,
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func (c *ExternalIPClient) firstAnswer(ctx context.Context, client *http.Client, services []string, family func(netip.Addr) bool) netip.Addr {
	for _, url := range services {
		if ctx.Err() != nil {
			return netip.Addr{}
		}
		addr, err := fetchAddr(ctx, client, url)
		if err != nil || !family(addr) {
			continue
		}
		return addr.WithZone("")
	}
	return netip.Addr{}
}

func fetchAddr(ctx context.Context, client *http.Client, url string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return netip.Addr{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIPResponseBytes))
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.ParseAddr(strings.TrimSpace(string(body)))
}

// HTTPChecker issues plain GET requests to captive-portal style endpoints.
type HTTPChecker struct {
	Client *http.Client
}

// Check returns the response status for url. Transport failures come back
// as CodeNetworkUnreachable errors.
func (h *HTTPChecker) Check(ctx context.Context, url string, timeout time.Duration) (int, error) {
	timeout = validTimeout(timeout, defaultHTTPTimeout)
	client := h.Client
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, errors.NewScanErrorWithTarget(errors.CodeValidation, "invalid check URL", url)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.RecordProbe("http", "unreachable", time.Since(start))
		return 0, errors.WrapScanErrorWithTarget(errors.CodeNetworkUnreachable, "request failed", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	metrics.RecordProbe("http", "reachable", time.Since(start))
	return resp.StatusCode, nil
}

// Reachable reports whether a status code means open internet access.
// Captive portals answer the 204 endpoints with redirects or login pages.
func Reachable(status int) bool {
	return status == http.StatusOK || status == http.StatusNoContent
}
