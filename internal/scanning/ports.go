package scanning

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/anstrom/netscan/internal/errors"
)

const (
	// DefaultPortCount is the size of the default range 0..1024.
	DefaultPortCount = 1025

	maxPort                = 65535
	expectedPortRangeParts = 2
)

// DefaultPorts returns every port from 0 through 1024 inclusive.
func DefaultPorts() []uint16 {
	ports := make([]uint16, DefaultPortCount)
	for i := range ports {
		ports[i] = uint16(i)
	}
	return ports
}

// ParsePorts parses a port specification such as "22", "22,80,443" or
// "1-1024,8080". An empty spec selects DefaultPorts. The result is sorted
// and deduplicated.
func ParsePorts(spec string) ([]uint16, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DefaultPorts(), nil
	}

	var ports []uint16
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, invalidPorts(spec, "empty entry")
		}
		if strings.Contains(part, "-") {
			start, end, err := parsePortRange(spec, part)
			if err != nil {
				return nil, err
			}
			for p := start; p <= end; p++ {
				ports = append(ports, uint16(p))
			}
			continue
		}
		p, err := parseSinglePort(spec, part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, uint16(p))
	}

	slices.Sort(ports)
	return slices.Compact(ports), nil
}

// NormalizePorts validates an explicit port list. A nil list selects
// DefaultPorts; an empty non-nil list is rejected.
func NormalizePorts(ports []uint16) ([]uint16, error) {
	if ports == nil {
		return DefaultPorts(), nil
	}
	if len(ports) == 0 {
		return nil, invalidPorts("", "no ports given")
	}
	out := slices.Clone(ports)
	slices.Sort(out)
	return slices.Compact(out), nil
}

func parsePortRange(spec, part string) (int, int, error) {
	bounds := strings.Split(part, "-")
	if len(bounds) != expectedPortRangeParts {
		return 0, 0, invalidPorts(spec, "invalid port range format: %s", part)
	}
	start, err := parseSinglePort(spec, bounds[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseSinglePort(spec, bounds[1])
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, invalidPorts(spec, "range start greater than end: %s", part)
	}
	return start, end, nil
}

func parseSinglePort(spec, part string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(part))
	if err != nil {
		return 0, invalidPorts(spec, "invalid port: %s", part)
	}
	if port < 0 || port > maxPort {
		return 0, invalidPorts(spec, "invalid port: %d (must be 0-65535)", port)
	}
	return port, nil
}

func invalidPorts(spec, format string, args ...any) error {
	err := errors.ErrInvalidPort(spec)
	err.Cause = fmt.Errorf(format, args...)
	return err
}

// FormatPorts renders a sorted port list compactly, collapsing runs into
// ranges: [22 80 81 82] becomes "22,80-82".
func FormatPorts(ports []uint16) string {
	var b strings.Builder
	for i := 0; i < len(ports); {
		j := i
		for j+1 < len(ports) && ports[j+1] == ports[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(ports[i])))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(int(ports[j])))
		}
		i = j + 1
	}
	return b.String()
}
