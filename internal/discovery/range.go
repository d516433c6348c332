package discovery

import (
	"fmt"
	"math/big"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/netctx"
)

// DefaultMaxCandidates caps how many addresses a single range may expand to.
const DefaultMaxCandidates = 4096

// ParseRange expands a target range into a sorted, de-duplicated candidate
// list. Accepted forms, freely mixed in a comma or whitespace separated list:
//
//	192.168.1.0/24         CIDR; IPv4 network and broadcast excluded below /31
//	192.168.1.10-20        last-octet range
//	192.168.1.10-192.168.2.5
//	192.168.1.7            single address
//
// An empty spec yields no candidates and no error. A spec that would expand
// past maxCandidates fails with a ConfigError on the range field.
func ParseRange(spec string, maxCandidates int) ([]netip.Addr, error) {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	seen := make(map[netip.Addr]struct{})
	var out []netip.Addr
	add := func(a netip.Addr) error {
		if _, ok := seen[a]; ok {
			return nil
		}
		if len(out) >= maxCandidates {
			return rangeError(spec, fmt.Sprintf("range expands to more than %d addresses", maxCandidates))
		}
		seen[a] = struct{}{}
		out = append(out, a)
		return nil
	}

	for _, token := range strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		if err := expandToken(spec, token, maxCandidates, add); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return out, nil
}

func expandToken(spec, token string, maxCandidates int, add func(netip.Addr) error) error {
	switch {
	case strings.Contains(token, "/"):
		prefix, err := netip.ParsePrefix(token)
		if err != nil {
			return rangeError(spec, fmt.Sprintf("invalid CIDR %q", token))
		}
		return expandPrefix(spec, prefix.Masked(), maxCandidates, add)

	case strings.Contains(token, "-"):
		startStr, endStr, _ := strings.Cut(token, "-")
		start, err := netip.ParseAddr(startStr)
		if err != nil {
			return rangeError(spec, fmt.Sprintf("invalid range start %q", startStr))
		}
		end, err := parseRangeEnd(start, endStr)
		if err != nil {
			return rangeError(spec, err.Error())
		}
		if end.Less(start) {
			return rangeError(spec, fmt.Sprintf("range %q ends before it starts", token))
		}
		if span := addrSpan(start, end); span.Cmp(big.NewInt(int64(maxCandidates))) > 0 {
			return rangeError(spec, fmt.Sprintf("range expands to more than %d addresses", maxCandidates))
		}
		for a := start; ; a = a.Next() {
			if err := add(a); err != nil {
				return err
			}
			if a == end {
				return nil
			}
		}

	default:
		addr, err := netip.ParseAddr(token)
		if err != nil {
			return rangeError(spec, fmt.Sprintf("invalid address %q", token))
		}
		return add(addr.Unmap())
	}
}

// parseRangeEnd accepts either a full address of the same family or a
// last-octet number for IPv4.
func parseRangeEnd(start netip.Addr, s string) (netip.Addr, error) {
	if end, err := netip.ParseAddr(s); err == nil {
		if end.Is4() != start.Is4() {
			return netip.Addr{}, fmt.Errorf("range %s-%s mixes address families", start, s)
		}
		return end, nil
	}
	if !start.Is4() {
		return netip.Addr{}, fmt.Errorf("invalid range end %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return netip.Addr{}, fmt.Errorf("invalid range end %q", s)
	}
	b := start.As4()
	b[3] = byte(n)
	return netip.AddrFrom4(b), nil
}

func expandPrefix(spec string, prefix netip.Prefix, maxCandidates int, add func(netip.Addr) error) error {
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	excludeEdges := prefix.Addr().Is4() && prefix.Bits() < 31

	size := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
	if excludeEdges {
		size.Sub(size, big.NewInt(2))
	}
	if size.Cmp(big.NewInt(int64(maxCandidates))) > 0 {
		return rangeError(spec, fmt.Sprintf("%s expands to more than %d addresses", prefix, maxCandidates))
	}

	first := prefix.Addr()
	last := lastAddr(prefix)
	for a := first; prefix.Contains(a); a = a.Next() {
		if !(excludeEdges && (a == first || a == last)) {
			if err := add(a); err != nil {
				return err
			}
		}
		if a == last {
			break
		}
	}
	return nil
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	raw := prefix.Addr().AsSlice()
	bits := prefix.Bits()
	for i := range raw {
		for b := 0; b < 8; b++ {
			if i*8+b >= bits {
				raw[i] |= 0x80 >> b
			}
		}
	}
	addr, _ := netip.AddrFromSlice(raw)
	return addr
}

func addrSpan(start, end netip.Addr) *big.Int {
	s := new(big.Int).SetBytes(start.AsSlice())
	e := new(big.Int).SetBytes(end.AsSlice())
	return e.Sub(e, s).Add(e, big.NewInt(1))
}

func rangeError(spec, msg string) error {
	return errors.NewConfigFieldError(errors.CodeValidation, msg, "range", spec)
}

// AutoRange derives the scan range from the primary interface's IPv4
// network. Networks larger than /24 are narrowed to the /24 holding the
// interface address.
func AutoRange(nc *netctx.Context) (string, bool) {
	if nc == nil {
		return "", false
	}
	primary, ok := nc.Primary()
	if !ok {
		return "", false
	}
	prefix, ok := primary.IPv4()
	if !ok {
		return "", false
	}
	if prefix.Bits() < 24 {
		prefix = netip.PrefixFrom(prefix.Addr(), 24)
	}
	return prefix.Masked().String(), true
}
