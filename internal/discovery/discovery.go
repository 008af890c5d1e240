// Package discovery provides host discovery for netscan. It sweeps a set of
// candidate addresses with ICMP echo, unprivileged ICMP datagram sockets or
// a TCP connect fallback and reports which hosts answered.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/metrics"
	"github.com/anstrom/netscan/internal/workers"
)

const (
	// Default discovery configuration values.
	defaultConcurrency    = 50
	defaultTimeoutSeconds = 3
	defaultRetries        = 1
)

// Mode is the probe technique used to decide liveness.
type Mode string

const (
	ModeAuto Mode = "auto"
	// ModeICMP sends echo requests over a raw socket (root or CAP_NET_RAW).
	ModeICMP Mode = "icmp"
	// ModeUDP sends echo requests over an unprivileged ICMP datagram socket.
	ModeUDP Mode = "udp"
	// ModeTCP connects to a short list of probe ports.
	ModeTCP Mode = "tcp"
)

// ParseMode accepts auto, icmp, udp or tcp. An empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeICMP, ModeUDP, ModeTCP:
		return Mode(s), nil
	default:
		return "", errors.ErrConfigInvalid("discovery.mode", s)
	}
}

// DefaultProbePorts are tried by the TCP connect fallback.
func DefaultProbePorts() []uint16 {
	return []uint16{80, 443, 22}
}

// Config represents discovery configuration.
type Config struct {
	Mode       Mode          `json:"mode"`
	Workers    int           `json:"workers"`
	Timeout    time.Duration `json:"timeout"`
	Retries    int           `json:"retries"`
	ProbePorts []uint16      `json:"probe_ports"`
	RateLimit  int           `json:"rate_limit"`
	Burst      int           `json:"burst"`
}

// DefaultConfig returns the default sweep configuration.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeAuto,
		Workers:    defaultConcurrency,
		Timeout:    defaultTimeoutSeconds * time.Second,
		Retries:    defaultRetries,
		ProbePorts: DefaultProbePorts(),
	}
}

// Reply is a single successful probe.
type Reply struct {
	RTT time.Duration
	TTL int
}

// Prober sends one liveness probe. An error means no answer arrived.
type Prober interface {
	Mode() Mode
	Probe(ctx context.Context, addr netip.Addr) (Reply, error)
}

// Result represents a discovery result for a single live host.
type Result struct {
	Address  netip.Addr    `json:"address"`
	Method   Mode          `json:"method"`
	RTT      time.Duration `json:"rtt"`
	TTL      int           `json:"ttl,omitempty"`
	OSGuess  string        `json:"os_guess,omitempty"`
	Attempts int           `json:"attempts"`
}

// Outcome is the result of one sweep.
type Outcome struct {
	Mode        Mode     `json:"mode"`
	Probed      int      `json:"probed"`
	Live        []Result `json:"live"`
	Interrupted bool     `json:"interrupted"`
}

// Sweeper probes candidate hosts for liveness.
type Sweeper struct {
	config    Config
	prober    Prober
	dialer    dialer
	canListen func(mode Mode, v6 bool) error
	metrics   *metrics.PrometheusMetrics
	logger    *logging.Logger
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithProber bypasses mode selection and uses p for every probe.
func WithProber(p Prober) Option {
	return func(s *Sweeper) { s.prober = p }
}

// WithMetrics routes discovery metrics to m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithLogger sets the sweeper logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper creates a sweeper. Zero config fields take their defaults.
func NewSweeper(config Config, opts ...Option) *Sweeper {
	defaults := DefaultConfig()
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if len(config.ProbePorts) == 0 {
		config.ProbePorts = defaults.ProbePorts
	}

	s := &Sweeper{
		config:    config,
		dialer:    &net.Dialer{},
		canListen: canListen,
		metrics:   metrics.GetGlobalMetrics(),
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("discovery")
	return s
}

// Open selects the probe mode for each address family among candidates.
// Auto mode prefers raw ICMP, then unprivileged ICMP, then TCP connect, so
// IPv4 and IPv6 hosts may end up on different techniques. An explicitly
// configured ICMP mode that cannot be opened for a family present in
// candidates is fatal. The returned mode is the one used for the first
// candidate's family.
func (s *Sweeper) Open(candidates []netip.Addr) (Mode, error) {
	if s.prober != nil {
		return s.prober.Mode(), nil
	}
	if err := checkInterfaces(); err != nil {
		return "", err
	}

	has4, has6 := families(candidates)
	tcp := &tcpProber{ports: s.config.ProbePorts, dialer: s.dialer}

	byFamily := &familyProber{}
	if has4 {
		p, err := s.choose(false, tcp)
		if err != nil {
			return "", err
		}
		byFamily.v4 = p
	}
	if has6 {
		p, err := s.choose(true, tcp)
		if err != nil {
			return "", err
		}
		byFamily.v6 = p
	}

	switch {
	case byFamily.v6 == nil:
		s.prober = byFamily.v4
	case byFamily.v4 == nil:
		s.prober = byFamily.v6
	case byFamily.v4.Mode() == byFamily.v6.Mode():
		// One ICMP prober serves both families.
		s.prober = byFamily.v4
	default:
		s.logger.Info("Probe mode differs by address family",
			"ipv4", byFamily.v4.Mode(), "ipv6", byFamily.v6.Mode())
		byFamily.first = !candidates[0].Unmap().Is4()
		s.prober = byFamily
	}
	return s.prober.Mode(), nil
}

// choose picks the prober for one address family.
func (s *Sweeper) choose(v6 bool, tcp *tcpProber) (Prober, error) {
	switch s.config.Mode {
	case ModeTCP:
		return tcp, nil
	case ModeICMP, ModeUDP:
		if err := s.canListen(s.config.Mode, v6); err != nil {
			return nil, errors.ErrNoProbeMode(err)
		}
		return newICMPProber(s.config.Mode), nil
	default:
		for _, mode := range []Mode{ModeICMP, ModeUDP} {
			err := s.canListen(mode, v6)
			if err == nil {
				return newICMPProber(mode), nil
			}
			s.logger.Debug("Probe mode unavailable", "mode", mode, "ipv6", v6, "error", err)
		}
		return tcp, nil
	}
}

// families reports which address families occur in addrs. An empty list
// counts as IPv4.
func families(addrs []netip.Addr) (has4, has6 bool) {
	for _, a := range addrs {
		if a.Unmap().Is4() {
			has4 = true
		} else {
			has6 = true
		}
	}
	return has4 || !has6, has6
}

// familyProber routes each address to the prober chosen for its family.
type familyProber struct {
	v4, v6 Prober
	// first is true when the sweep's first candidate is IPv6.
	first bool
}

func (p *familyProber) forAddr(addr netip.Addr) Prober {
	if addr.Unmap().Is4() {
		return p.v4
	}
	return p.v6
}

func (p *familyProber) Mode() Mode {
	if p.first {
		return p.v6.Mode()
	}
	return p.v4.Mode()
}

func (p *familyProber) Probe(ctx context.Context, addr netip.Addr) (Reply, error) {
	return p.forAddr(addr).Probe(ctx, addr)
}

// Sweep probes every candidate and returns the live hosts in ascending
// address order. Hosts that never answer are left out; a sweep where nobody
// answers yields an empty list. On cancellation no further hosts are
// probed and the partial outcome is returned along with a CodeCanceled
// error.
func (s *Sweeper) Sweep(ctx context.Context, candidates []netip.Addr) (*Outcome, error) {
	mode, err := s.Open(candidates)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Mode: mode, Live: make([]Result, 0)}
	network := describe(candidates)
	s.logger.InfoDiscovery("Starting ping sweep", network,
		"mode", mode, "candidates", len(candidates), "retries", s.config.Retries)

	pool := workers.New(workers.Config{
		Name:      "discovery",
		Size:      s.config.Workers,
		QueueSize: s.config.Workers,
		RateLimit: s.config.RateLimit,
		Burst:     s.config.Burst,
	}, workers.WithMetrics(s.metrics), workers.WithLogger(s.logger))
	pool.Start()

	var mu sync.Mutex
	var submitErr error
	for _, addr := range candidates {
		addr := addr
		job := workers.NewFuncJob(addr.String(), "ping", func(context.Context) error {
			if result, ok := s.probeHost(ctx, addr); ok {
				mu.Lock()
				outcome.Live = append(outcome.Live, result)
				mu.Unlock()
			}
			return nil
		})
		if err := pool.Submit(ctx, job); err != nil {
			submitErr = err
			break
		}
		outcome.Probed++
	}
	pool.Close()

	slices.SortFunc(outcome.Live, func(a, b Result) int {
		return a.Address.Compare(b.Address)
	})
	s.metrics.IncrementHostsLive(string(mode), len(outcome.Live))

	if submitErr != nil {
		outcome.Interrupted = true
		s.logger.ErrorDiscovery("Ping sweep interrupted", network, submitErr, "probed", outcome.Probed)
		return outcome, submitErr
	}

	s.logger.InfoDiscovery("Ping sweep completed", network,
		"mode", mode, "probed", outcome.Probed, "live", len(outcome.Live))
	return outcome, nil
}

// probeHost tries addr up to 1+Retries times. No attempt starts once ctx is
// canceled; a probe already sent still runs to its own timeout.
func (s *Sweeper) probeHost(ctx context.Context, addr netip.Addr) (Result, bool) {
	prober := s.prober
	if byFamily, ok := prober.(*familyProber); ok {
		prober = byFamily.forAddr(addr)
	}
	mode := prober.Mode()
	for attempt := 1; attempt <= s.config.Retries+1; attempt++ {
		if ctx.Err() != nil {
			break
		}
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
		reply, err := prober.Probe(probeCtx, addr)
		cancel()

		s.metrics.RecordProbe(string(mode), err == nil, reply.RTT)
		if err != nil {
			s.logger.Debug("Probe unanswered", "target", addr.String(), "attempt", attempt, "error", err)
			continue
		}
		return Result{
			Address:  addr,
			Method:   mode,
			RTT:      reply.RTT,
			TTL:      reply.TTL,
			OSGuess:  GuessOS(reply.TTL),
			Attempts: attempt,
		}, true
	}
	return Result{}, false
}

// GuessOS maps an observed TTL to the usual initial TTL of an OS family.
// TTLs outside the known bands yield an empty guess.
func GuessOS(ttl int) string {
	switch {
	case ttl >= 60 && ttl <= 70:
		return "Linux/Unix"
	case ttl >= 120 && ttl <= 130:
		return "Windows"
	case ttl >= 240 && ttl <= 255:
		return "Network Device"
	default:
		return ""
	}
}

// checkInterfaces fails when the machine has no interface that is up.
func checkInterfaces() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return errors.WrapDiscoveryError(errors.CodeNoInterface, "failed to list network interfaces", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 {
			return nil
		}
	}
	return errors.NewDiscoveryError(errors.CodeNoInterface, "no usable network interface")
}

func describe(candidates []netip.Addr) string {
	switch len(candidates) {
	case 0:
		return "none"
	case 1:
		return candidates[0].String()
	default:
		return fmt.Sprintf("%s-%s", candidates[0], candidates[len(candidates)-1])
	}
}
