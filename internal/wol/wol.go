// Package wol sends Wake-on-LAN magic packets.
package wol

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

const (
	// DefaultPort is the discard port conventionally used for magic packets.
	DefaultPort = 9
	// DefaultBroadcast is the limited broadcast address.
	DefaultBroadcast = "255.255.255.255"

	sendTimeout = 2 * time.Second
)

// ParseMAC accepts aa:bb:cc:dd:ee:ff, aa-bb-cc-dd-ee-ff, aabb.ccdd.eeff and
// bare aabbccddeeff, in either case. Only 48-bit addresses are valid.
func ParseMAC(s string) (net.HardwareAddr, error) {
	s = strings.TrimSpace(s)

	var mac net.HardwareAddr
	if len(s) == 12 {
		raw, err := hex.DecodeString(s)
		if err == nil {
			mac = raw
		}
	}
	if mac == nil {
		parsed, err := net.ParseMAC(s)
		if err != nil {
			return nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid MAC address", "mac", s)
		}
		mac = parsed
	}
	if len(mac) != 6 {
		return nil, errors.NewConfigFieldError(errors.CodeValidation, "MAC address must be 48 bits", "mac", s)
	}
	return mac, nil
}

// MagicPacket builds the 102 byte payload: six 0xFF bytes followed by the
// MAC sixteen times.
func MagicPacket(mac net.HardwareAddr) []byte {
	packet := make([]byte, 0, 6+16*len(mac))
	packet = append(packet, bytes.Repeat([]byte{0xff}, 6)...)
	for i := 0; i < 16; i++ {
		packet = append(packet, mac...)
	}
	return packet
}

// Send broadcasts a magic packet for mac. target is a broadcast address with
// an optional port; empty means DefaultBroadcast on DefaultPort.
func Send(ctx context.Context, mac net.HardwareAddr, target string) error {
	if len(mac) != 6 {
		return errors.NewConfigFieldError(errors.CodeValidation, "MAC address must be 48 bits", "mac", mac.String())
	}
	addr := TargetAddr(target)
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "invalid wake-on-lan target "+addr, err)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeNetworkUnreachable, "failed to open wake-on-lan socket", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(sendTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.WriteTo(MagicPacket(mac), raddr); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeNetworkUnreachable, "failed to send magic packet", addr, err)
	}
	logging.Info("Sent wake-on-lan packet", "mac", mac.String(), "target", addr)
	return nil
}

// TargetAddr normalizes a broadcast target to host:port.
func TargetAddr(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		target = DefaultBroadcast
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(target, strconv.Itoa(DefaultPort))
}
