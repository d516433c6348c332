package probe

import (
	"context"
	stderrors "errors"
	"io/fs"
	"math"
	"net/netip"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/metrics"
)

const (
	defaultPingBinary   = "ping"
	defaultPingAttempts = 2
	defaultPingTimeout  = time.Second
	// Grace given to the ping process beyond its own -W wait.
	pingProcessGrace = 500 * time.Millisecond
)

var (
	rttPattern     = regexp.MustCompile(`time[=<]\s*(\d+(?:\.\d+)?)\s*ms`)
	summaryPattern = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max(?:/mdev|/stddev)? = [\d.]+/([\d.]+)/`)
	packetsPattern = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
)

// PingStats summarizes a multi-echo ping run.
type PingStats struct {
	Sent     int           `json:"sent"`
	Received int           `json:"received"`
	AvgRTT   time.Duration `json:"avg_rtt"`
	HasRTT   bool          `json:"has_rtt"`
}

// ExecPinger pings through the system ping binary, which carries the raw
// socket privileges this process usually lacks.
type ExecPinger struct {
	// Binary is the ping executable. Defaults to "ping".
	Binary string
	// Attempts is the number of single-echo attempts per Ping call.
	Attempts int
	// Run executes the command. Defaults to exec.CommandContext.
	Run CommandRunner
}

// NewExecPinger creates a pinger making the given number of attempts.
func NewExecPinger(attempts int) *ExecPinger {
	return &ExecPinger{Attempts: attempts}
}

// Ping reports whether addr answers an echo within timeout on any attempt.
func (p *ExecPinger) Ping(ctx context.Context, addr netip.Addr, timeout time.Duration) (PingResult, error) {
	if !addr.IsValid() {
		return PingResult{}, errors.ErrInvalidTarget(addr.String())
	}
	timeout = validTimeout(timeout, defaultPingTimeout)

	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultPingAttempts
	}

	start := time.Now()
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			break
		}
		out, err := p.exec(ctx, timeout, pingArgs(addr, 1, timeout)...)
		if err != nil {
			if isMissingBinary(err) {
				return PingResult{}, errors.ErrUnavailableCapability(p.binary(), err)
			}
			continue
		}

		result := PingResult{Reachable: true}
		if rtt, ok := ParseRTT(string(out)); ok {
			result.RTT = rtt
			result.HasRTT = true
		}
		metrics.RecordProbe("ping", "reachable", time.Since(start))
		return result, nil
	}

	metrics.RecordProbe("ping", "unreachable", time.Since(start))
	return PingResult{}, nil
}

// PingCount sends count echoes in a single run and reports loss and the
// average round trip time.
func (p *ExecPinger) PingCount(ctx context.Context, addr netip.Addr, count int, timeout time.Duration) (PingStats, error) {
	if !addr.IsValid() {
		return PingStats{}, errors.ErrInvalidTarget(addr.String())
	}
	if count <= 0 {
		count = 1
	}
	timeout = validTimeout(timeout, defaultPingTimeout)

	// Echoes go out one second apart.
	budget := timeout + time.Duration(count-1)*time.Second
	out, err := p.exec(ctx, budget, pingArgs(addr, count, timeout)...)
	if err != nil && isMissingBinary(err) {
		return PingStats{}, errors.ErrUnavailableCapability(p.binary(), err)
	}

	stats := PingStats{Sent: count}
	if m := packetsPattern.FindStringSubmatch(string(out)); m != nil {
		stats.Sent, _ = strconv.Atoi(m[1])
		stats.Received, _ = strconv.Atoi(m[2])
	}
	if rtt, ok := ParseRTT(string(out)); ok && stats.Received > 0 {
		stats.AvgRTT = rtt
		stats.HasRTT = true
	}
	return stats, nil
}

func (p *ExecPinger) binary() string {
	if p.Binary == "" {
		return defaultPingBinary
	}
	return p.Binary
}

func (p *ExecPinger) exec(ctx context.Context, budget time.Duration, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, budget+pingProcessGrace)
	defer cancel()

	run := p.Run
	if run == nil {
		run = RunCommand
	}
	return run(runCtx, p.binary(), args...)
}

func pingArgs(addr netip.Addr, count int, timeout time.Duration) []string {
	wait := int(math.Ceil(timeout.Seconds()))
	if wait < 1 {
		wait = 1
	}
	args := []string{"-n", "-c", strconv.Itoa(count), "-W", strconv.Itoa(wait)}
	if addr.Is6() && !addr.Is4In6() {
		args = append(args, "-6")
	}
	return append(args, addr.Unmap().String())
}

// ParseRTT extracts a round trip time from ping output. The average from
// the summary line wins over a single reply line.
func ParseRTT(output string) (time.Duration, bool) {
	if m := summaryPattern.FindStringSubmatch(output); m != nil {
		if d, ok := parseMillis(m[1]); ok {
			return d, true
		}
	}
	if m := rttPattern.FindStringSubmatch(output); m != nil {
		return parseMillis(m[1])
	}
	return 0, false
}

func parseMillis(s string) (time.Duration, bool) {
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

func isMissingBinary(err error) bool {
	return stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist)
}

// RunCommand runs name with args and returns its standard output.
func RunCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
