// Package targets expands target specifications (single addresses, inclusive
// ranges and CIDR blocks) into ordered, deduplicated address lists.
package targets

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/anstrom/netscan/internal/errors"
)

const (
	// MinIPv4Prefix is the widest IPv4 block accepted (65534 hosts).
	MinIPv4Prefix = 16
	// MinIPv6Prefix is the widest IPv6 block accepted (65535 hosts).
	MinIPv6Prefix = 112
	// MaxRangeSize caps the number of addresses an a-b range may denote.
	MaxRangeSize = 1 << 16

	rangeSeparator = "-"
	listSeparator  = ","
)

// Kind identifies the form of a target specification.
type Kind int

const (
	KindSingle Kind = iota
	KindRange
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindRange:
		return "range"
	case KindBlock:
		return "cidr"
	default:
		return "unknown"
	}
}

// Spec is one parsed target specification. First and Last bound the usable
// addresses inclusively.
type Spec struct {
	Raw    string
	Kind   Kind
	Prefix netip.Prefix
	First  netip.Addr
	Last   netip.Addr
}

func invalid(raw, format string, args ...any) error {
	return errors.WrapScanErrorWithTarget(errors.CodeTargetInvalid,
		"Invalid target specification", raw, fmt.Errorf(format, args...))
}

// Parse parses a single address ("10.0.0.1"), an inclusive range
// ("10.0.0.1-10.0.0.20" or the shorthand "10.0.0.1-20") or a CIDR block
// ("10.0.0.0/24").
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, invalid(raw, "empty target")
	}

	switch {
	case strings.Contains(s, "/"):
		return parseBlock(raw, s)
	case strings.Contains(s, rangeSeparator):
		return parseRange(raw, s)
	default:
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return Spec{}, invalid(raw, "not an address: %v", err)
		}
		addr = addr.Unmap()
		return Spec{Raw: raw, Kind: KindSingle, First: addr, Last: addr}, nil
	}
}

func parseBlock(raw, s string) (Spec, error) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return Spec{}, invalid(raw, "not a CIDR block: %v", err)
	}
	prefix = prefix.Masked()

	minBits := MinIPv6Prefix
	if prefix.Addr().Is4() {
		minBits = MinIPv4Prefix
	}
	if prefix.Bits() < minBits {
		return Spec{}, invalid(raw, "prefix /%d is wider than the /%d minimum", prefix.Bits(), minBits)
	}

	first, last := usableBounds(prefix)
	return Spec{Raw: raw, Kind: KindBlock, Prefix: prefix, First: first, Last: last}, nil
}

// usableBounds drops the network address from every block that has more
// than two addresses, and the broadcast address from such IPv4 blocks.
func usableBounds(prefix netip.Prefix) (netip.Addr, netip.Addr) {
	network := prefix.Addr()
	top := lastAddr(prefix)
	if prefix.Addr().BitLen()-prefix.Bits() <= 1 {
		return network, top
	}
	if network.Is4() {
		return network.Next(), top.Prev()
	}
	return network.Next(), top
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if prefix.Addr().Is4() {
		b := prefix.Addr().As4()
		setHostBits(b[:], hostBits)
		return netip.AddrFrom4(b)
	}
	b := prefix.Addr().As16()
	setHostBits(b[:], hostBits)
	return netip.AddrFrom16(b)
}

func setHostBits(b []byte, hostBits int) {
	for i := len(b) - 1; i >= 0 && hostBits > 0; i-- {
		if hostBits >= 8 {
			b[i] = 0xff
			hostBits -= 8
			continue
		}
		b[i] |= byte(1<<hostBits - 1)
		hostBits = 0
	}
}

func parseRange(raw, s string) (Spec, error) {
	left, right, _ := strings.Cut(s, rangeSeparator)
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)

	first, err := netip.ParseAddr(left)
	if err != nil {
		return Spec{}, invalid(raw, "bad range start: %v", err)
	}
	first = first.Unmap()

	last, err := netip.ParseAddr(right)
	if err != nil {
		// 192.168.1.10-20 replaces the final octet
		octet, convErr := strconv.Atoi(right)
		if convErr != nil || !first.Is4() || octet < 0 || octet > 255 {
			return Spec{}, invalid(raw, "bad range end %q", right)
		}
		b := first.As4()
		b[3] = byte(octet)
		last = netip.AddrFrom4(b)
	}
	last = last.Unmap()

	if first.Is4() != last.Is4() {
		return Spec{}, invalid(raw, "range mixes address families")
	}
	if last.Less(first) {
		return Spec{}, invalid(raw, "range end precedes start")
	}

	n := 0
	for a := first; ; a = a.Next() {
		n++
		if n > MaxRangeSize {
			return Spec{}, invalid(raw, "range exceeds %d addresses", MaxRangeSize)
		}
		if a == last {
			break
		}
	}
	return Spec{Raw: raw, Kind: KindRange, First: first, Last: last}, nil
}

// Addresses returns every usable address of the spec in ascending order.
func (s Spec) Addresses() []netip.Addr {
	if !s.First.IsValid() || !s.Last.IsValid() || s.Last.Less(s.First) {
		return nil
	}
	var out []netip.Addr
	for a := s.First; ; a = a.Next() {
		out = append(out, a)
		if a == s.Last {
			break
		}
	}
	return out
}

// String renders the spec in canonical form.
func (s Spec) String() string {
	switch s.Kind {
	case KindBlock:
		return s.Prefix.String()
	case KindRange:
		return s.First.String() + rangeSeparator + s.Last.String()
	default:
		return s.First.String()
	}
}

// Resolve parses every spec (each may itself be a comma-separated list) and
// returns the union of their addresses, ascending and deduplicated. The
// result is a pure function of the input.
func Resolve(specs ...string) ([]netip.Addr, error) {
	var parsed []Spec
	for _, raw := range specs {
		for _, part := range strings.Split(raw, listSeparator) {
			if strings.TrimSpace(part) == "" {
				continue
			}
			spec, err := Parse(part)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, spec)
		}
	}
	if len(parsed) == 0 {
		return nil, invalid(strings.Join(specs, listSeparator), "no targets given")
	}

	var addrs []netip.Addr
	for _, spec := range parsed {
		addrs = append(addrs, spec.Addresses()...)
	}
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	addrs = slices.Compact(addrs)

	if len(addrs) == 0 {
		return nil, invalid(strings.Join(specs, listSeparator), "no usable addresses")
	}
	return addrs, nil
}
