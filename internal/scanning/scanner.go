// Package scanning classifies port reachability over TCP and UDP and holds
// the session data model shared by every netscan stage.
package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/metrics"
	"github.com/anstrom/netscan/internal/workers"
)

const (
	// CauseSeparator joins the causes of successive failed attempts.
	CauseSeparator = " | "

	causeRefused     = "Connection refused"
	causeTimeout     = "Connection timed out"
	causeUnreachable = "Host unreachable"
	causeFailed      = "Connection failed"
	causeNoResponse  = "no response (open|filtered)"

	dnsPort        = 53
	udpReadBufSize = 1024
	dnsProbeName   = "example.com."
)

// Dialer opens transport connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Sink receives each classified port as soon as it lands.
type Sink func(addr netip.Addr, result PortResult)

// Scanner classifies ports with a bounded worker pool.
type Scanner struct {
	policy      RetryPolicy
	workers     int
	rateLimit   int
	burst       int
	dialer      Dialer
	hostLimiter *HostLimiter
	metrics     *metrics.PrometheusMetrics
	logger      *logging.Logger
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(s *Scanner) { s.workers = n }
}

// WithRateLimit caps probe starts per second.
func WithRateLimit(perSecond, burst int) Option {
	return func(s *Scanner) {
		s.rateLimit = perSecond
		s.burst = burst
	}
}

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(s *Scanner) { s.dialer = d }
}

// WithHostLimiter caps concurrent probes against a single host.
func WithHostLimiter(l *HostLimiter) Option {
	return func(s *Scanner) { s.hostLimiter = l }
}

// WithMetrics routes scan metrics to m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithLogger sets the scanner logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner creates a port scanner.
func NewScanner(policy RetryPolicy, opts ...Option) *Scanner {
	s := &Scanner{
		policy:  policy.normalized(),
		workers: 100,
		dialer:  &net.Dialer{},
		metrics: metrics.GetGlobalMetrics(),
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scanner")
	return s
}

// Policy returns the retry policy in use.
func (s *Scanner) Policy() RetryPolicy {
	return s.policy
}

// Scan probes every (host, port, transport) combination and hands each
// result to sink. Jobs are queued port-major so hosts are interleaved. When
// ctx is canceled no further probes are queued; probes already running
// finish and are still delivered, and a CodeCanceled error is returned.
func (s *Scanner) Scan(ctx context.Context, hosts []netip.Addr, ports []uint16,
	transports []Transport, sink Sink) error {
	if len(transports) == 0 {
		transports = []Transport{TCP}
	}

	pool := workers.New(workers.Config{
		Name:      "scan",
		Size:      s.workers,
		QueueSize: s.workers,
		RateLimit: s.rateLimit,
		Burst:     s.burst,
	}, workers.WithMetrics(s.metrics), workers.WithLogger(s.logger))
	pool.Start()

	s.logger.Info("Starting port scan",
		"hosts", len(hosts),
		"ports", len(ports),
		"transports", transports,
		"attempts", s.policy.Attempts,
		"timeout", s.policy.Timeout)

	var submitErr error
dispatch:
	for _, port := range ports {
		for _, transport := range transports {
			for _, host := range hosts {
				host, port, transport := host, port, transport
				id := fmt.Sprintf("%s/%s/%d", host, transport, port)
				job := workers.NewFuncJob(id, "scan", func(context.Context) error {
					result, err := s.ScanPort(ctx, host, port, transport)
					if err != nil {
						return nil
					}
					sink(host, result)
					return nil
				})
				if err := pool.Submit(ctx, job); err != nil {
					submitErr = err
					break dispatch
				}
			}
		}
	}
	pool.Close()

	if submitErr != nil {
		s.logger.Warn("Port scan interrupted", "queued", pool.Stats().Submitted)
		return submitErr
	}
	return nil
}

// ScanPort classifies one port. Filtered outcomes are retried up to the
// policy's attempt count unless ctx has been canceled in between. A port
// that was never probed because ctx was already canceled yields a
// CodeCanceled error and no result.
func (s *Scanner) ScanPort(ctx context.Context, addr netip.Addr, port uint16, transport Transport) (PortResult, error) {
	result := NewPortResult(port, transport)
	target := netip.AddrPortFrom(addr, port).String()

	if s.hostLimiter != nil {
		if err := s.hostLimiter.Acquire(ctx, addr); err != nil {
			return PortResult{}, err
		}
		defer s.hostLimiter.Release(addr)
	}
	if err := ctx.Err(); err != nil {
		return PortResult{}, errors.WrapScanErrorWithTarget(errors.CodeCanceled, "port not scanned", target, err)
	}

	var causes []string
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		if attempt > 1 && ctx.Err() != nil {
			break
		}
		result.Attempts = attempt

		status, rtt, cause := s.attempt(ctx, target, transport, port)
		result.Status = status
		result.RTT = rtt
		if cause != "" {
			causes = append(causes, cause)
		}
		if status != StatusFiltered {
			break
		}
		s.logger.DebugScan("Attempt filtered", target, "attempt", attempt, "cause", cause)
	}

	if result.Status == StatusOpen {
		causes = nil
	}
	result.Error = strings.Join(causes, CauseSeparator)
	s.metrics.RecordPort(string(transport), string(result.Status), result.Attempts)
	return result, nil
}

func (s *Scanner) attempt(ctx context.Context, target string, transport Transport, port uint16) (PortStatus, time.Duration, string) {
	// In-flight probes end by their own timeout, never by cancellation.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.Timeout)
	defer cancel()

	if transport == UDP {
		return s.probeUDP(probeCtx, target, port)
	}
	return s.probeTCP(probeCtx, target)
}

func (s *Scanner) probeTCP(ctx context.Context, target string) (PortStatus, time.Duration, string) {
	start := time.Now()
	conn, err := s.dialer.DialContext(ctx, "tcp", target)
	rtt := time.Since(start)
	if err == nil {
		_ = conn.Close()
		return StatusOpen, rtt, ""
	}
	status, cause := Classify(err)
	return status, rtt, cause
}

func (s *Scanner) probeUDP(ctx context.Context, target string, port uint16) (PortStatus, time.Duration, string) {
	conn, err := s.dialer.DialContext(ctx, "udp", target)
	if err != nil {
		status, cause := Classify(err)
		return status, 0, cause
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	start := time.Now()
	if _, err := conn.Write(udpPayload(port)); err != nil {
		status, cause := Classify(err)
		return status, time.Since(start), cause
	}

	buf := make([]byte, udpReadBufSize)
	n, err := conn.Read(buf)
	rtt := time.Since(start)
	if err == nil && n > 0 {
		return StatusOpen, rtt, ""
	}
	if err == nil || IsTimeout(err) {
		return StatusFiltered, rtt, causeNoResponse
	}
	status, cause := Classify(err)
	return status, rtt, cause
}

// udpPayload returns a datagram likely to draw an answer: a real DNS query
// for port 53 and a single zero byte elsewhere.
func udpPayload(port uint16) []byte {
	if port == dnsPort {
		m := new(dns.Msg)
		m.SetQuestion(dnsProbeName, dns.TypeA)
		if packed, err := m.Pack(); err == nil {
			return packed
		}
	}
	return []byte{0x00}
}

// Classify maps a transport error to a port status and a short cause.
func Classify(err error) (PortStatus, string) {
	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return StatusClosed, causeRefused
	case IsTimeout(err):
		return StatusFiltered, causeTimeout
	case stderrors.Is(err, syscall.EHOSTUNREACH), stderrors.Is(err, syscall.ENETUNREACH):
		return StatusFiltered, causeUnreachable
	case strings.Contains(err.Error(), "connection refused"):
		return StatusClosed, causeRefused
	default:
		return StatusFiltered, causeFailed
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}
