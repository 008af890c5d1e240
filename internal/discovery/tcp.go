package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"syscall"
	"time"
)

var errNoProbePorts = stderrors.New("no tcp probe ports configured")

type dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// tcpProber treats a completed handshake or a reset on any probe port as
// proof of life. Ports are tried in parallel and the first answer wins.
type tcpProber struct {
	ports  []uint16
	dialer dialer
}

func (p *tcpProber) Mode() Mode {
	return ModeTCP
}

func (p *tcpProber) Probe(ctx context.Context, addr netip.Addr) (Reply, error) {
	if len(p.ports) == 0 {
		return Reply{}, errNoProbePorts
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		rtt time.Duration
		err error
	}
	results := make(chan outcome, len(p.ports))
	start := time.Now()

	for _, port := range p.ports {
		go func(port uint16) {
			conn, err := p.dialer.DialContext(ctx, "tcp", netip.AddrPortFrom(addr, port).String())
			switch {
			case err == nil:
				_ = conn.Close()
				results <- outcome{rtt: time.Since(start)}
			case stderrors.Is(err, syscall.ECONNREFUSED):
				results <- outcome{rtt: time.Since(start)}
			default:
				results <- outcome{err: err}
			}
		}(port)
	}

	var lastErr error
	for range p.ports {
		o := <-results
		if o.err == nil {
			return Reply{RTT: o.rtt}, nil
		}
		lastErr = o.err
	}
	return Reply{}, lastErr
}
