package detection

import (
	"context"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/anstrom/netscan/internal/scanning"
)

const (
	httpProbe = "HEAD / HTTP/1.0\r\n\r\n"
	telnetIAC = 0xff
)

// bannerDetector covers the line protocols: connect, optionally send a
// probe, read what comes back and match it.
type bannerDetector struct {
	name    string
	service string
	ports   []uint16
	opts    Options

	// probe is written right after connecting.
	probe []byte
	// nudge is written when the service stays silent after connecting.
	nudge []byte
	match func(banner string, port uint16) bool
}

func (d *bannerDetector) Name() string    { return d.name }
func (d *bannerDetector) Service() string { return d.service }

func (d *bannerDetector) WellKnown(port uint16) bool {
	return slices.Contains(d.ports, port)
}

func (d *bannerDetector) Supports(transport scanning.Transport) bool {
	return transport == scanning.TCP
}

func (d *bannerDetector) Detect(ctx context.Context, target Target) (string, error) {
	conn, err := d.opts.Dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return "", err
	}
	defer conn.Close()
	setDeadline(ctx, conn)

	if len(d.probe) > 0 {
		if _, err := conn.Write(d.probe); err != nil {
			return "", err
		}
	}

	if len(d.nudge) > 0 {
		// Leave half the budget for the read after the nudge.
		_ = conn.SetReadDeadline(time.Now().Add(d.opts.Timeout / 2))
	}
	banner := readBounded(conn, d.opts.ReadLimit)
	if banner == "" && len(d.nudge) > 0 {
		setDeadline(ctx, conn)
		if _, err := conn.Write(d.nudge); err == nil {
			banner = readBounded(conn, d.opts.ReadLimit)
		}
	}

	if banner == "" {
		return "", mismatch("no response")
	}
	if !d.match(banner, target.Port) {
		return "", mismatch("unexpected response")
	}
	return cleanBanner(banner), nil
}

// grabBanner reads whatever a TCP service volunteers after connecting.
func grabBanner(ctx context.Context, o Options, target Target) string {
	conn, err := o.Dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return ""
	}
	defer conn.Close()
	setDeadline(ctx, conn)
	return cleanBanner(readBounded(conn, o.ReadLimit))
}

// setDeadline applies ctx's deadline to conn. Reads that would outlive it
// fail with a timeout.
func setDeadline(ctx context.Context, conn net.Conn) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	_ = conn.SetDeadline(deadline)
}

// readBounded performs one read of at most limit bytes. Errors and
// timeouts yield whatever arrived, possibly nothing.
func readBounded(conn net.Conn, limit int) string {
	buf := make([]byte, limit)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

// cleanBanner keeps the first line of a response as printable text: invalid
// UTF-8 and control bytes are dropped, tabs become spaces and the result is
// trimmed. Banners are stored in TEXT columns, which reject NUL.
func cleanBanner(raw string) string {
	line, _, _ := strings.Cut(raw, "\n")
	line = strings.ToValidUTF8(line, "")
	line = strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case r < ' ', r == 0x7f:
			return -1
		default:
			return r
		}
	}, line)
	return strings.TrimSpace(line)
}

func isHTTPStatusLine(b string) bool {
	return strings.HasPrefix(b, "HTTP/1.") || strings.HasPrefix(b, "HTTP/2")
}
