// Package detection identifies the application protocol behind a port. A
// fixed set of detectors, one per protocol, is tried in priority order and
// the first signature match names the service.
package detection

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/scanning"
)

const (
	// MaxReadLimit bounds every service response read.
	MaxReadLimit = 1024

	defaultTimeout = 2 * time.Second
)

// Protocol names accepted in a protocol set, in detection priority order.
const (
	SSH    = "ssh"
	HTTP   = "http"
	HTTPS  = "https"
	FTP    = "ftp"
	SMTP   = "smtp"
	POP3   = "pop3"
	IMAP   = "imap"
	Telnet = "telnet"
	DNS    = "dns"
	SNMP   = "snmp"
)

var priority = []string{SSH, HTTP, HTTPS, FTP, SMTP, POP3, IMAP, Telnet, DNS, SNMP}

// Protocols returns every supported protocol name in priority order.
func Protocols() []string {
	return slices.Clone(priority)
}

// ParseProtocols validates a protocol set. Names are case-insensitive and
// duplicates collapse. An empty input selects every protocol.
func ParseProtocols(names []string) ([]string, error) {
	if len(names) == 0 {
		return Protocols(), nil
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(priority, name) {
			return nil, errors.ErrUnknownProtocol(name)
		}
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for _, name := range priority {
		if seen[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Target is one port to identify.
type Target struct {
	Addr      netip.Addr
	Port      uint16
	Transport scanning.Transport
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Addr.String(), strconv.Itoa(int(t.Port)))
}

// Detector recognizes one application protocol.
type Detector interface {
	// Name is the protocol set name, e.g. "ssh".
	Name() string
	// Service is the display name reported on a match, e.g. "SSH".
	Service() string
	// WellKnown reports whether port is a standard port for the protocol.
	WellKnown(port uint16) bool
	// Supports reports whether the protocol runs over transport.
	Supports(transport scanning.Transport) bool
	// Detect probes target and returns the banner on a match. A
	// *MismatchError means the service answered but is something else; any
	// other error means the probe could not be completed.
	Detect(ctx context.Context, target Target) (string, error)
}

// MismatchError reports a completed probe whose response did not match.
type MismatchError struct {
	Detail string
}

func (e *MismatchError) Error() string {
	return e.Detail
}

func mismatch(detail string) error {
	return &MismatchError{Detail: detail}
}

// IsMismatch reports whether err is a signature mismatch rather than a
// failed probe.
func IsMismatch(err error) bool {
	var m *MismatchError
	return stderrors.As(err, &m)
}

// Dialer opens probe connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options are shared by every detector.
type Options struct {
	Timeout       time.Duration
	ReadLimit     int
	SNMPCommunity string
	Dialer        Dialer
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.ReadLimit <= 0 || o.ReadLimit > MaxReadLimit {
		o.ReadLimit = MaxReadLimit
	}
	if o.SNMPCommunity == "" {
		o.SNMPCommunity = "public"
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	return o
}

// New returns the detectors for the named protocols in priority order.
func New(protocols []string, opts Options) ([]Detector, error) {
	names, err := ParseProtocols(protocols)
	if err != nil {
		return nil, err
	}
	opts = opts.normalized()

	detectors := make([]Detector, 0, len(names))
	for _, name := range names {
		detectors = append(detectors, build(name, opts))
	}
	return detectors, nil
}

func build(name string, o Options) Detector {
	switch name {
	case SSH:
		return &bannerDetector{
			name: SSH, service: "SSH", ports: []uint16{22}, opts: o,
			nudge: []byte("\n"),
			match: func(b string, _ uint16) bool { return strings.HasPrefix(b, "SSH-") },
		}
	case HTTP:
		return &bannerDetector{
			name: HTTP, service: "HTTP", ports: []uint16{80, 8000, 8008, 8080}, opts: o,
			probe: []byte(httpProbe),
			match: func(b string, _ uint16) bool { return isHTTPStatusLine(b) },
		}
	case HTTPS:
		return &httpsDetector{opts: o}
	case FTP:
		return &bannerDetector{
			name: FTP, service: "FTP", ports: []uint16{21}, opts: o,
			match: func(b string, port uint16) bool {
				if !strings.HasPrefix(b, "220") || strings.Contains(b, "SMTP") {
					return false
				}
				return port == 21 || strings.Contains(strings.ToUpper(b), "FTP")
			},
		}
	case SMTP:
		return &bannerDetector{
			name: SMTP, service: "SMTP", ports: []uint16{25, 465, 587}, opts: o,
			match: func(b string, port uint16) bool {
				if !strings.HasPrefix(b, "220") {
					return false
				}
				return strings.Contains(b, "SMTP") || port == 25 || port == 465 || port == 587
			},
		}
	case POP3:
		return &bannerDetector{
			name: POP3, service: "POP3", ports: []uint16{110}, opts: o,
			match: func(b string, _ uint16) bool { return strings.HasPrefix(b, "+OK") },
		}
	case IMAP:
		return &bannerDetector{
			name: IMAP, service: "IMAP", ports: []uint16{143}, opts: o,
			match: func(b string, _ uint16) bool { return strings.HasPrefix(b, "* OK") },
		}
	case Telnet:
		return &bannerDetector{
			name: Telnet, service: "Telnet", ports: []uint16{23}, opts: o,
			match: func(b string, _ uint16) bool {
				return b[0] == telnetIAC || strings.Contains(b, "login") || strings.Contains(b, "Welcome")
			},
		}
	case DNS:
		return &dnsDetector{opts: o}
	default:
		return &snmpDetector{opts: o}
	}
}

// order puts detectors whose well-known ports include port first and keeps
// priority order within each group.
func order(detectors []Detector, target Target) []Detector {
	out := make([]Detector, 0, len(detectors))
	for _, d := range detectors {
		if d.Supports(target.Transport) && d.WellKnown(target.Port) {
			out = append(out, d)
		}
	}
	for _, d := range detectors {
		if d.Supports(target.Transport) && !d.WellKnown(target.Port) {
			out = append(out, d)
		}
	}
	return out
}
