package detection

import (
	"context"
	"slices"

	ztls "github.com/zmap/zcrypto/tls"

	"github.com/anstrom/netscan/internal/scanning"
)

// httpsDetector matches any service that completes a TLS handshake. The
// HTTP status line, when the server sends one, becomes the banner.
type httpsDetector struct {
	opts Options
}

func (d *httpsDetector) Name() string    { return HTTPS }
func (d *httpsDetector) Service() string { return "HTTPS" }

func (d *httpsDetector) WellKnown(port uint16) bool {
	return slices.Contains([]uint16{443, 8443}, port)
}

func (d *httpsDetector) Supports(transport scanning.Transport) bool {
	return transport == scanning.TCP
}

func (d *httpsDetector) Detect(ctx context.Context, target Target) (string, error) {
	raw, err := d.opts.Dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return "", err
	}
	defer raw.Close()
	setDeadline(ctx, raw)

	conn := ztls.Client(raw, &ztls.Config{InsecureSkipVerify: true})
	if err := conn.Handshake(); err != nil {
		return "", mismatch("TLS handshake failed")
	}

	if _, err := conn.Write([]byte(httpProbe)); err != nil {
		return "", nil
	}
	banner := readBounded(conn, d.opts.ReadLimit)
	if !isHTTPStatusLine(banner) {
		return "", nil
	}
	return cleanBanner(banner), nil
}
