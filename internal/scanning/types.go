package scanning

import (
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownService is the service name of every port no detector matched.
const UnknownService = "Unknown Service"

// Transport is the layer-4 protocol a port was scanned over.
type Transport string

const (
	TCP Transport = "tcp"
	UDP Transport = "udp"
)

// ParseTransport accepts "tcp" or "udp" in any case.
func ParseTransport(s string) (Transport, bool) {
	switch Transport(strings.ToLower(strings.TrimSpace(s))) {
	case TCP:
		return TCP, true
	case UDP:
		return UDP, true
	default:
		return "", false
	}
}

// PortStatus is the reachability verdict for a port.
type PortStatus string

const (
	StatusOpen     PortStatus = "open"
	StatusClosed   PortStatus = "closed"
	StatusFiltered PortStatus = "filtered"
)

// RetryPolicy bounds connection attempts per port. Only filtered outcomes
// are retried; every failed attempt's cause is kept.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
}

// DefaultRetryPolicy makes one attempt with the connect timeout used by the
// classic netscan backend.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 1, Timeout: 5 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultRetryPolicy().Timeout
	}
	return p
}

// PortResult is the outcome of scanning one (host, port, transport).
type PortResult struct {
	Port      uint16        `json:"port"`
	Transport Transport     `json:"transport"`
	Status    PortStatus    `json:"status"`
	Service   string        `json:"service"`
	Error     string        `json:"error,omitempty"`
	Banner    string        `json:"banner,omitempty"`
	Attempts  int           `json:"attempts"`
	RTT       time.Duration `json:"rtt"`

	// ProtocolFailures lists the detectors that could not complete a probe.
	ProtocolFailures []string `json:"protocol_failures,omitempty"`
}

// NewPortResult returns a result with the default service name.
func NewPortResult(port uint16, transport Transport) PortResult {
	return PortResult{Port: port, Transport: transport, Service: UnknownService}
}

// Clean reports whether the port is open and its service identified. Only
// clean results stay out of the failure summary.
func (r PortResult) Clean() bool {
	return r.Status == StatusOpen && r.Service != "" && r.Service != UnknownService
}

// HasError reports whether the result carries error detail.
func (r PortResult) HasError() bool {
	return r.Error != ""
}

// HostRecord is everything learned about one live host.
type HostRecord struct {
	Address netip.Addr    `json:"address"`
	Live    bool          `json:"live"`
	Method  string        `json:"method,omitempty"`
	RTT     time.Duration `json:"rtt"`
	TTL     int           `json:"ttl,omitempty"`
	OSGuess string        `json:"os_guess,omitempty"`
	MAC     string        `json:"mac,omitempty"`
	Vendor  string        `json:"vendor,omitempty"`
	Ports   []PortResult  `json:"ports"`
}

// SortPorts orders results by port, then transport.
func (h *HostRecord) SortPorts() {
	slices.SortFunc(h.Ports, func(a, b PortResult) int {
		if a.Port != b.Port {
			return int(a.Port) - int(b.Port)
		}
		return strings.Compare(string(a.Transport), string(b.Transport))
	})
}

// Counters are the session totals.
type Counters struct {
	Candidates int `json:"candidates"`
	HostsLive  int `json:"hosts_live"`
	PortsOpen  int `json:"ports_open"`
	Errors     int `json:"errors"`
}

// Session is the complete result of one scan invocation.
type Session struct {
	ID          uuid.UUID     `json:"id"`
	Targets     []string      `json:"targets"`
	Ports       []uint16      `json:"-"`
	PortSpec    string        `json:"port_spec"`
	Protocols   []string      `json:"protocols,omitempty"`
	Transports  []Transport   `json:"transports"`
	ProbeMode   string        `json:"probe_mode"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Hosts       []HostRecord  `json:"hosts"`
	Counters    Counters      `json:"counters"`
	Interrupted bool          `json:"interrupted"`
}

// NewSession creates a session with a fresh ID and the current start time.
func NewSession(targets []string) *Session {
	return &Session{
		ID:        uuid.New(),
		Targets:   targets,
		StartTime: time.Now(),
		Hosts:     make([]HostRecord, 0),
	}
}

// Complete stamps the end time and duration.
func (s *Session) Complete() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// Status is "interrupted" or "completed".
func (s *Session) Status() string {
	if s.Interrupted {
		return "interrupted"
	}
	return "completed"
}
