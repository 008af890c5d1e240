// Package engine runs one scan session end to end: resolve targets, sweep
// for live hosts, scan their ports, fingerprint them, identify services and
// fold everything into a report.
package engine

//go:generate mockgen -destination=mocks/mock_stages.go -package=mocks github.com/anstrom/netscan/internal/engine Sweeper,PortScanner,Identifier,Fingerprinter,Store

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/anstrom/netscan/internal/config"
	"github.com/anstrom/netscan/internal/detection"
	"github.com/anstrom/netscan/internal/discovery"
	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/fingerprint"
	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/metrics"
	"github.com/anstrom/netscan/internal/report"
	"github.com/anstrom/netscan/internal/scanning"
	"github.com/anstrom/netscan/internal/targets"
)

// Sweeper finds the live hosts among candidates.
type Sweeper interface {
	Sweep(ctx context.Context, candidates []netip.Addr) (*discovery.Outcome, error)
}

// PortScanner classifies ports on live hosts.
type PortScanner interface {
	Scan(ctx context.Context, hosts []netip.Addr, ports []uint16, transports []scanning.Transport, sink scanning.Sink) error
}

// Identifier names the services behind scanned ports.
type Identifier interface {
	IdentifyAll(ctx context.Context, items []detection.Item) error
}

// Fingerprinter resolves MAC and vendor for live hosts.
type Fingerprinter interface {
	FingerprintAll(ctx context.Context, addrs []netip.Addr) map[netip.Addr]fingerprint.Result
}

// Store persists finished sessions.
type Store interface {
	Save(ctx context.Context, s *scanning.Session) error
}

// IdentifierFactory builds an identifier for a protocol set.
type IdentifierFactory func(protocols []string) (Identifier, error)

// Request describes one scan.
type Request struct {
	// Target specifications, unioned
	Targets []string

	// Ports to scan; nil selects 0-1024
	Ports []uint16

	// Transports to scan; empty selects tcp
	Transports []scanning.Transport

	// Protocols to detect; nil selects every detector. An explicit set also
	// runs detection on ports that did not answer as open.
	Protocols []string

	DetectServices bool
	Fingerprint    bool

	// SweepOnly stops after discovery.
	SweepOnly bool

	// ServicesExport overrides the configured services JSON path.
	ServicesExport string
}

// Engine orchestrates the scan stages.
type Engine struct {
	config        *config.Config
	sweeper       Sweeper
	scanner       PortScanner
	fingerprinter Fingerprinter
	newIdentifier IdentifierFactory
	store         Store
	failures      *report.FailureLog
	metrics       *metrics.PrometheusMetrics
	logger        *logging.Logger

	prepareOnce sync.Once
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSweeper replaces the discovery stage.
func WithSweeper(s Sweeper) Option {
	return func(e *Engine) { e.sweeper = s }
}

// WithScanner replaces the port scan stage.
func WithScanner(s PortScanner) Option {
	return func(e *Engine) { e.scanner = s }
}

// WithFingerprinter replaces the fingerprint stage.
func WithFingerprinter(f Fingerprinter) Option {
	return func(e *Engine) { e.fingerprinter = f }
}

// WithIdentifierFactory replaces how detection stages are built.
func WithIdentifierFactory(f IdentifierFactory) Option {
	return func(e *Engine) { e.newIdentifier = f }
}

// WithStore enables session persistence.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics routes engine and stage metrics to m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an engine whose stages follow cfg. Options replace
// individual stages.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		config:   cfg,
		failures: report.NewFailureLog(cfg.Report.FailureCSV),
		metrics:  metrics.GetGlobalMetrics(),
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")

	if e.sweeper == nil {
		mode, err := discovery.ParseMode(cfg.Discovery.Mode)
		if err != nil {
			return nil, err
		}
		dc := discovery.Config{
			Mode:       mode,
			Workers:    cfg.Discovery.Workers,
			Timeout:    cfg.Discovery.Timeout,
			Retries:    cfg.Discovery.Retries,
			ProbePorts: cfg.Discovery.ProbePorts,
		}
		if cfg.Discovery.RateLimit.Enabled {
			dc.RateLimit = cfg.Discovery.RateLimit.RequestsPerSecond
			dc.Burst = cfg.Discovery.RateLimit.BurstSize
		}
		e.sweeper = discovery.NewSweeper(dc,
			discovery.WithMetrics(e.metrics), discovery.WithLogger(e.logger))
	}

	if e.scanner == nil {
		opts := []scanning.Option{
			scanning.WithWorkers(cfg.Scanning.Workers),
			scanning.WithMetrics(e.metrics),
			scanning.WithLogger(e.logger),
		}
		if cfg.Scanning.RateLimit.Enabled {
			opts = append(opts, scanning.WithRateLimit(
				cfg.Scanning.RateLimit.RequestsPerSecond, cfg.Scanning.RateLimit.BurstSize))
		}
		if cfg.Scanning.PerHostLimit > 0 {
			opts = append(opts, scanning.WithHostLimiter(scanning.NewHostLimiter(cfg.Scanning.PerHostLimit)))
		}
		e.scanner = scanning.NewScanner(scanning.RetryPolicy{
			Attempts: cfg.Scanning.Attempts,
			Timeout:  cfg.Scanning.Timeout,
		}, opts...)
	}

	if e.fingerprinter == nil {
		e.fingerprinter = fingerprint.New(fingerprint.Config{
			ARPTable:  cfg.Fingerprint.ARPTable,
			UseNmap:   cfg.Fingerprint.UseNmap,
			OUIFile:   cfg.Fingerprint.OUIFile,
			OUIURL:    cfg.Fingerprint.OUIURL,
			OUIMaxAge: cfg.OUIMaxAge(),
		}, fingerprint.WithLogger(e.logger))
	}

	if e.newIdentifier == nil {
		e.newIdentifier = func(protocols []string) (Identifier, error) {
			return detection.NewIdentifier(protocols, detection.Options{
				Timeout:       cfg.Detection.Timeout,
				ReadLimit:     cfg.Detection.ReadLimit,
				SNMPCommunity: cfg.Detection.SNMPCommunity,
			}, detection.WithWorkers(cfg.Detection.Workers),
				detection.WithMetrics(e.metrics),
				detection.WithLogger(e.logger))
		}
	}
	return e, nil
}

// plan is a validated request.
type plan struct {
	candidates []netip.Addr
	ports      []uint16
	transports []scanning.Transport
	protocols  []string
	explicit   bool
	identifier Identifier
}

// validate resolves everything that can fail fatally, before any host is
// contacted.
func (e *Engine) validate(req Request) (*plan, error) {
	if len(req.Targets) == 0 {
		return nil, errors.ErrInvalidTarget("")
	}
	candidates, err := targets.Resolve(req.Targets...)
	if err != nil {
		return nil, err
	}
	ports, err := scanning.NormalizePorts(req.Ports)
	if err != nil {
		return nil, err
	}

	p := &plan{
		candidates: candidates,
		ports:      ports,
		transports: req.Transports,
		explicit:   len(req.Protocols) > 0,
	}
	if len(p.transports) == 0 {
		p.transports = []scanning.Transport{scanning.TCP}
	}
	if len(req.Protocols) == 0 && !req.DetectServices {
		return p, nil
	}
	protocols, err := detection.ParseProtocols(req.Protocols)
	if err != nil {
		return nil, err
	}
	p.protocols = protocols
	if req.DetectServices && !req.SweepOnly {
		if p.identifier, err = e.newIdentifier(protocols); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run executes one session. Fatal errors (bad targets, ports or
// protocols, no interface, no probe mode) are returned before any probe
// is sent. Everything else is recorded in the session. When ctx is
// canceled no new probes are issued and the partial session comes back
// with Interrupted set.
func (e *Engine) Run(ctx context.Context, req Request) (*scanning.Session, error) {
	p, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	session := scanning.NewSession(req.Targets)
	session.Ports = p.ports
	session.PortSpec = scanning.FormatPorts(p.ports)
	session.Protocols = p.protocols
	session.Transports = p.transports
	session.Counters.Candidates = len(p.candidates)
	log := e.logger.WithSession(session.ID.String())
	log.InfoScan("Starting scan session", session.PortSpec,
		"targets", req.Targets, "candidates", len(p.candidates))

	agg := report.NewAggregator(session)

	outcome, err := e.sweeper.Sweep(ctx, p.candidates)
	if err != nil && !errors.IsCode(err, errors.CodeCanceled) {
		return nil, err
	}
	if outcome != nil {
		session.ProbeMode = string(outcome.Mode)
		for _, r := range outcome.Live {
			agg.AddHost(scanning.HostRecord{
				Address: r.Address,
				Method:  string(r.Method),
				RTT:     r.RTT,
				TTL:     r.TTL,
				OSGuess: r.OSGuess,
			})
		}
		session.Interrupted = outcome.Interrupted
	}
	if err != nil {
		session.Interrupted = true
	}

	live := liveAddresses(outcome)
	switch {
	case session.Interrupted:
		log.Warn("Scan interrupted during discovery")
	case len(live) == 0:
		log.Info("No live hosts found")
	case req.SweepOnly:
	default:
		session.Interrupted = e.scanHosts(ctx, log, req, p, agg, live)
	}

	return e.finish(ctx, log, req, agg, session.Interrupted), nil
}

// scanHosts runs the port scan alongside fingerprinting, then detection.
// It reports whether a stage was cut short by cancellation.
func (e *Engine) scanHosts(ctx context.Context, log *logging.Logger, req Request, p *plan,
	agg *report.Aggregator, live []netip.Addr) bool {
	var wg sync.WaitGroup
	if req.Fingerprint {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.fingerprintHosts(ctx, log, agg, live)
		}()
	}

	err := e.scanner.Scan(ctx, live, p.ports, p.transports, agg.Record)
	wg.Wait()
	if err != nil {
		log.Warn("Port scan stopped early", "error", err)
		return true
	}
	if p.identifier == nil {
		return false
	}

	items := detectionItems(agg.Results(), p.explicit)
	err = p.identifier.IdentifyAll(ctx, items)
	for _, item := range items {
		agg.Annotate(item.Addr, *item.Result)
	}
	if err != nil {
		log.Warn("Service detection stopped early", "error", err)
		return true
	}
	return false
}

func (e *Engine) fingerprintHosts(ctx context.Context, log *logging.Logger, agg *report.Aggregator, live []netip.Addr) {
	if f, ok := e.fingerprinter.(interface{ Prepare() error }); ok {
		e.prepareOnce.Do(func() {
			if err := f.Prepare(); err != nil {
				log.Warn("OUI database unavailable, using built-in vendors", "error", err)
			}
		})
	}
	for addr, r := range e.fingerprinter.FingerprintAll(ctx, live) {
		if r.MAC == "" {
			continue
		}
		agg.AnnotateHost(addr, func(h *scanning.HostRecord) {
			h.MAC = r.MAC
			h.Vendor = r.Vendor
		})
	}
}

// finish closes the session and writes its artifacts. Artifact failures
// are logged; the session is returned regardless.
func (e *Engine) finish(ctx context.Context, log *logging.Logger, req Request,
	agg *report.Aggregator, interrupted bool) *scanning.Session {
	session := agg.Session()
	session.Interrupted = interrupted
	session.Complete()
	e.metrics.RecordSession(session.Status(), session.Duration)

	if !req.SweepOnly {
		if err := e.failures.Append(report.FailureRecords(session, session.EndTime)); err != nil {
			log.Error("Failed to append failure summary", "path", e.failures.Path(), "error", err)
		}
		path := req.ServicesExport
		if path == "" {
			path = e.config.Report.ServicesJSON
		}
		if path != "" {
			if err := report.ExportServices(path, session); err != nil {
				log.Error("Failed to export services", "path", path, "error", err)
			}
		}
	}

	if e.store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := e.store.Save(saveCtx, session); err != nil {
			log.Error("Failed to persist session", "error", err)
		}
		cancel()
	}

	if path := e.config.Metrics.Textfile; path != "" {
		if err := e.metrics.WriteTextfile(path); err != nil {
			log.Error("Failed to write metrics textfile", "path", path, "error", err)
		}
	}

	log.InfoScan("Scan session finished", session.PortSpec,
		"status", session.Status(),
		"hosts_live", session.Counters.HostsLive,
		"ports_open", session.Counters.PortsOpen,
		"errors", session.Counters.Errors,
		"duration", session.Duration)
	return session
}

func liveAddresses(outcome *discovery.Outcome) []netip.Addr {
	if outcome == nil {
		return nil
	}
	addrs := make([]netip.Addr, len(outcome.Live))
	for i, r := range outcome.Live {
		addrs[i] = r.Address
	}
	return addrs
}

// detectionItems picks the results to identify: open ports, or every port
// when the protocol set was given explicitly. Each item owns a copy.
func detectionItems(results map[netip.Addr][]scanning.PortResult, all bool) []detection.Item {
	var items []detection.Item
	for addr, ports := range results {
		for i := range ports {
			if !all && ports[i].Status != scanning.StatusOpen {
				continue
			}
			r := ports[i]
			items = append(items, detection.Item{Addr: addr, Result: &r})
		}
	}
	return items
}
