package probe

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

const defaultArpPath = "/proc/net/arp"

// ProcNeighborReader reads the kernel neighbor table from /proc/net/arp and
// falls back to `ip neigh show` when the file is unavailable.
type ProcNeighborReader struct {
	// ArpPath defaults to /proc/net/arp.
	ArpPath string
	// Run executes the ip command. Defaults to RunCommand.
	Run CommandRunner
}

// ReadNeighbors returns every complete IP to MAC entry in one read.
func (r *ProcNeighborReader) ReadNeighbors(ctx context.Context) (map[netip.Addr]net.HardwareAddr, error) {
	path := r.ArpPath
	if path == "" {
		path = defaultArpPath
	}

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		return ParseProcArp(f), nil
	}
	logging.Debug("neighbor table file unavailable, trying ip neigh", "path", path, "error", err)

	run := r.Run
	if run == nil {
		run = RunCommand
	}
	out, runErr := run(ctx, "ip", "neigh", "show")
	if runErr != nil {
		if isMissingBinary(runErr) {
			return nil, errors.ErrUnavailableCapability("ip", runErr)
		}
		return nil, errors.WrapScanError(errors.CodeScanFailed, "failed to read neighbor table", runErr)
	}
	return ParseIPNeigh(bytes.NewReader(out)), nil
}

// ParseProcArp parses the /proc/net/arp format:
//
//	IP address  HW type  Flags  HW address  Mask  Device
func ParseProcArp(r io.Reader) map[netip.Addr]net.HardwareAddr {
	out := make(map[netip.Addr]net.HardwareAddr)
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		// Flags 0x0 marks an incomplete entry.
		if fields[2] == "0x0" {
			continue
		}
		addEntry(out, fields[0], fields[3])
	}
	return out
}

// ParseIPNeigh parses `ip neigh show` output:
//
//	192.168.1.1 dev eth0 lladdr aa:bb:cc:dd:ee:ff REACHABLE
func ParseIPNeigh(r io.Reader) map[netip.Addr]net.HardwareAddr {
	out := make(map[netip.Addr]net.HardwareAddr)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		state := fields[len(fields)-1]
		if state == "FAILED" || state == "INCOMPLETE" {
			continue
		}
		for i := 1; i < len(fields)-1; i++ {
			if fields[i] == "lladdr" {
				addEntry(out, fields[0], fields[i+1])
				break
			}
		}
	}
	return out
}

func addEntry(out map[netip.Addr]net.HardwareAddr, ip, mac string) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return
	}
	hw, err := net.ParseMAC(mac)
	if err != nil || isZeroMAC(hw) {
		return
	}
	out[addr.Unmap()] = hw
}

func isZeroMAC(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0 {
			return false
		}
	}
	return true
}
