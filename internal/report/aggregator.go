// Package report folds scan results into a session and renders it: a
// console table, the CSV failure summary and the JSON service export.
package report

import (
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/anstrom/netscan/internal/scanning"
)

// Aggregator collects results from concurrent stages into one session.
// Results may arrive in any order; Session sorts them.
type Aggregator struct {
	mu      sync.Mutex
	session *scanning.Session
	hosts   map[netip.Addr]*scanning.HostRecord

	open   atomic.Int64
	errors atomic.Int64
}

// NewAggregator starts aggregating into session.
func NewAggregator(session *scanning.Session) *Aggregator {
	return &Aggregator{
		session: session,
		hosts:   make(map[netip.Addr]*scanning.HostRecord),
	}
}

// AddHost registers a live host. Adding a host twice keeps the first
// record.
func (a *Aggregator) AddHost(host scanning.HostRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.hosts[host.Address]; ok {
		return
	}
	host.Live = true
	a.hosts[host.Address] = &host
}

// Record adds one port result to its host, registering the host if needed.
func (a *Aggregator) Record(addr netip.Addr, result scanning.PortResult) {
	if result.Status == scanning.StatusOpen {
		a.open.Add(1)
	}
	if result.HasError() {
		a.errors.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.host(addr)
	h.Ports = append(h.Ports, result)
}

// Annotate replaces a previously recorded result, matched by port and
// transport, keeping the error counter in step.
func (a *Aggregator) Annotate(addr netip.Addr, result scanning.PortResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	host := a.host(addr)
	for i := range host.Ports {
		prev := &host.Ports[i]
		if prev.Port != result.Port || prev.Transport != result.Transport {
			continue
		}
		switch {
		case !prev.HasError() && result.HasError():
			a.errors.Add(1)
		case prev.HasError() && !result.HasError():
			a.errors.Add(-1)
		}
		*prev = result
		return
	}
}

// AnnotateHost applies fn to the host record for addr.
func (a *Aggregator) AnnotateHost(addr netip.Addr, fn func(*scanning.HostRecord)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.host(addr))
}

// Results returns a copy of every recorded result, for later stages.
func (a *Aggregator) Results() map[netip.Addr][]scanning.PortResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[netip.Addr][]scanning.PortResult, len(a.hosts))
	for addr, h := range a.hosts {
		out[addr] = slices.Clone(h.Ports)
	}
	return out
}

// OpenPorts returns the number of open results recorded so far.
func (a *Aggregator) OpenPorts() int {
	return int(a.open.Load())
}

// Errors returns the number of results carrying error detail.
func (a *Aggregator) Errors() int {
	return int(a.errors.Load())
}

// Session writes hosts, in ascending address order with their ports
// ordered by port and transport, and the counters into the session.
func (a *Aggregator) Session() *scanning.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	hosts := make([]scanning.HostRecord, 0, len(a.hosts))
	for _, h := range a.hosts {
		record := *h
		record.Ports = slices.Clone(h.Ports)
		if record.Ports == nil {
			record.Ports = []scanning.PortResult{}
		}
		record.SortPorts()
		hosts = append(hosts, record)
	}
	slices.SortFunc(hosts, func(x, y scanning.HostRecord) int {
		return x.Address.Compare(y.Address)
	})

	a.session.Hosts = hosts
	a.session.Counters.HostsLive = len(hosts)
	a.session.Counters.PortsOpen = a.OpenPorts()
	a.session.Counters.Errors = a.Errors()
	return a.session
}

func (a *Aggregator) host(addr netip.Addr) *scanning.HostRecord {
	h, ok := a.hosts[addr]
	if !ok {
		h = &scanning.HostRecord{Address: addr, Live: true}
		a.hosts[addr] = h
	}
	return h
}
