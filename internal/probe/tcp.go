package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/metrics"
)

const defaultConnectTimeout = time.Second

// TCPProber classifies ports with a full TCP connect.
type TCPProber struct{}

// Probe connects to addr:port. A completed handshake is open, a refusal is
// closed, and anything else (timeout, unreachable, reset) is filtered.
func (TCPProber) Probe(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) (PortResult, error) {
	if port < 1 || port > 65535 {
		return PortResult{}, errors.NewScanErrorWithTarget(errors.CodeValidation,
			fmt.Sprintf("port %d out of range", port), addr.String())
	}
	if !addr.IsValid() {
		return PortResult{}, errors.ErrInvalidTarget(addr.String())
	}

	dialer := net.Dialer{Timeout: validTimeout(timeout, defaultConnectTimeout)}
	target := netip.AddrPortFrom(addr.Unmap(), uint16(port)).String()

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", target)
	latency := time.Since(start)

	state := ClassifyDialError(err)
	if conn != nil {
		_ = conn.Close()
	}

	metrics.RecordProbe("tcp", string(state), latency)
	return PortResult{State: state, Latency: latency}, nil
}

// ClassifyDialError maps a dial error to a port state.
func ClassifyDialError(err error) PortState {
	switch {
	case err == nil:
		return PortOpen
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return PortClosed
	default:
		return PortFiltered
	}
}
