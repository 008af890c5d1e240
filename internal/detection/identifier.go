package detection

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/metrics"
	"github.com/anstrom/netscan/internal/scanning"
	"github.com/anstrom/netscan/internal/workers"
)

// Item is a scanned port awaiting identification. Result is updated in
// place.
type Item struct {
	Addr   netip.Addr
	Result *scanning.PortResult
}

// Identifier runs the configured detectors against ports.
type Identifier struct {
	detectors []Detector
	opts      Options
	workers   int
	metrics   *metrics.PrometheusMetrics
	logger    *logging.Logger
}

// Option customizes an Identifier.
type Option func(*Identifier)

// WithWorkers sets the detection pool size.
func WithWorkers(n int) Option {
	return func(i *Identifier) { i.workers = n }
}

// WithMetrics routes detection metrics to m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(i *Identifier) { i.metrics = m }
}

// WithLogger sets the identifier logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Identifier) { i.logger = l }
}

// NewIdentifier builds an identifier for the named protocols; nil or empty
// selects all of them. Unknown names fail with CodeProtocolUnknown.
func NewIdentifier(protocols []string, opts Options, options ...Option) (*Identifier, error) {
	opts = opts.normalized()
	detectors, err := New(protocols, opts)
	if err != nil {
		return nil, err
	}
	i := &Identifier{
		detectors: detectors,
		opts:      opts,
		workers:   32,
		metrics:   metrics.GetGlobalMetrics(),
		logger:    logging.Default(),
	}
	for _, o := range options {
		o(i)
	}
	i.logger = i.logger.WithComponent("detection")
	return i, nil
}

// Detectors returns the active detectors in priority order.
func (i *Identifier) Detectors() []Detector {
	return i.detectors
}

// Identify names the service on one port. The first matching detector
// wins. When none matches the service stays "Unknown Service", every
// detector's cause is appended to the error detail and the detectors that
// could not complete a probe are recorded as protocol failures. Any banner
// the service volunteers is kept either way.
func (i *Identifier) Identify(ctx context.Context, addr netip.Addr, result *scanning.PortResult) {
	target := Target{Addr: addr, Port: result.Port, Transport: result.Transport}

	var causes, failures []string
	candidates := order(i.detectors, target)
	if len(candidates) == 0 {
		names := make([]string, 0, len(i.detectors))
		for _, d := range i.detectors {
			names = append(names, d.Name())
		}
		causes = append(causes, fmt.Sprintf("no detector for %s among [%s]",
			target.Transport, strings.Join(names, " ")))
	}
	for _, d := range candidates {
		if ctx.Err() != nil {
			break
		}
		banner, err := i.detect(ctx, d, target)
		if err == nil {
			result.Service = d.Service()
			result.Banner = banner
			i.metrics.RecordDetection(d.Name(), "match")
			i.logger.DebugScan("Service identified", target.Address(), "service", d.Service())
			return
		}

		if IsMismatch(err) {
			i.metrics.RecordDetection(d.Name(), "miss")
			causes = append(causes, fmt.Sprintf("%s: %s", d.Service(), err))
			continue
		}
		_, cause := scanning.Classify(err)
		i.metrics.RecordDetection(d.Name(), "error")
		causes = append(causes, fmt.Sprintf("%s: %s", d.Service(), cause))
		failures = append(failures, d.Service())
	}

	result.Service = scanning.UnknownService
	result.ProtocolFailures = failures
	if len(causes) > 0 {
		detail := strings.Join(causes, scanning.CauseSeparator)
		if result.Error != "" {
			detail = result.Error + scanning.CauseSeparator + detail
		}
		result.Error = detail
	}
	if target.Transport == scanning.TCP && result.Status == scanning.StatusOpen && ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.opts.Timeout)
		result.Banner = grabBanner(ctx, i.opts, target)
		cancel()
	}
}

// detect runs one detector under its own timeout, detached from
// cancellation so a started probe completes.
func (i *Identifier) detect(ctx context.Context, d Detector, target Target) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.opts.Timeout)
	defer cancel()
	return d.Detect(ctx, target)
}

// IdentifyAll identifies every item through a bounded pool. On
// cancellation the remaining items are left untouched and a CodeCanceled
// error is returned.
func (i *Identifier) IdentifyAll(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	pool := workers.New(workers.Config{
		Name:      "detection",
		Size:      i.workers,
		QueueSize: i.workers,
	}, workers.WithMetrics(i.metrics), workers.WithLogger(i.logger))
	pool.Start()

	i.logger.Info("Starting service detection",
		"ports", len(items), "detectors", len(i.detectors))

	var submitErr error
	for _, item := range items {
		item := item
		id := fmt.Sprintf("%s/%s/%d", item.Addr, item.Result.Transport, item.Result.Port)
		job := workers.NewFuncJob(id, "detect", func(context.Context) error {
			i.Identify(ctx, item.Addr, item.Result)
			return nil
		})
		if err := pool.Submit(ctx, job); err != nil {
			submitErr = err
			break
		}
	}
	pool.Close()
	return submitErr
}
