package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscan/internal/scanning"
)

func result(port uint16, transport scanning.Transport, status scanning.PortStatus, service, errText string) scanning.PortResult {
	r := scanning.NewPortResult(port, transport)
	r.Status = status
	if service != "" {
		r.Service = service
	}
	r.Error = errText
	return r
}

func sampleSession(t *testing.T) *scanning.Session {
	t.Helper()
	s := scanning.NewSession([]string{"127.0.0.1"})
	agg := NewAggregator(s)
	host := netip.MustParseAddr("127.0.0.1")
	agg.AddHost(scanning.HostRecord{Address: host, Method: "tcp"})
	agg.Record(host, result(80, scanning.TCP, scanning.StatusClosed, "", "Connection refused"))
	agg.Record(host, result(22, scanning.TCP, scanning.StatusOpen, "SSH", ""))
	s = agg.Session()
	s.Complete()
	return s
}

func TestAggregatorOrdersHostsAndPorts(t *testing.T) {
	s := scanning.NewSession(nil)
	agg := NewAggregator(s)

	hosts := []netip.Addr{
		netip.MustParseAddr("10.0.0.10"),
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.1"),
	}
	var wg sync.WaitGroup
	for _, h := range hosts {
		for _, p := range []uint16{443, 22, 80} {
			wg.Add(1)
			go func(h netip.Addr, p uint16) {
				defer wg.Done()
				agg.Record(h, result(p, scanning.TCP, scanning.StatusOpen, "", ""))
			}(h, p)
		}
	}
	wg.Wait()
	agg.Record(hosts[0], result(22, scanning.UDP, scanning.StatusFiltered, "", "no response (open|filtered)"))

	out := agg.Session()
	require.Len(t, out.Hosts, 3)
	assert.Equal(t, "10.0.0.1", out.Hosts[0].Address.String())
	assert.Equal(t, "10.0.0.2", out.Hosts[1].Address.String())
	assert.Equal(t, "10.0.0.10", out.Hosts[2].Address.String())

	ports := out.Hosts[2].Ports
	require.Len(t, ports, 4)
	assert.Equal(t, uint16(22), ports[0].Port)
	assert.Equal(t, scanning.TCP, ports[0].Transport)
	assert.Equal(t, scanning.UDP, ports[1].Transport)
	assert.Equal(t, uint16(443), ports[3].Port)

	assert.Equal(t, 9, out.Counters.PortsOpen)
	assert.Equal(t, 1, out.Counters.Errors)
	assert.Equal(t, 3, out.Counters.HostsLive)
}

func TestAggregatorAnnotateTracksErrors(t *testing.T) {
	agg := NewAggregator(scanning.NewSession(nil))
	host := netip.MustParseAddr("10.0.0.1")
	agg.Record(host, result(8080, scanning.TCP, scanning.StatusOpen, "", ""))
	assert.Equal(t, 0, agg.Errors())

	annotated := result(8080, scanning.TCP, scanning.StatusOpen, "", "SSH: no response")
	agg.Annotate(host, annotated)
	assert.Equal(t, 1, agg.Errors())

	annotated.Error = ""
	annotated.Service = "HTTP"
	agg.Annotate(host, annotated)
	assert.Equal(t, 0, agg.Errors())
	assert.Equal(t, "HTTP", agg.Results()[host][0].Service)

	agg.AnnotateHost(host, func(h *scanning.HostRecord) { h.MAC = "AA:BB:CC:DD:EE:FF" })
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", agg.Session().Hosts[0].MAC)
}

func TestAggregatorHostWithoutPorts(t *testing.T) {
	agg := NewAggregator(scanning.NewSession(nil))
	agg.AddHost(scanning.HostRecord{Address: netip.MustParseAddr("10.0.0.1"), TTL: 64})
	agg.AddHost(scanning.HostRecord{Address: netip.MustParseAddr("10.0.0.1"), TTL: 1})

	out := agg.Session()
	require.Len(t, out.Hosts, 1)
	assert.True(t, out.Hosts[0].Live)
	assert.Equal(t, 64, out.Hosts[0].TTL)
	assert.NotNil(t, out.Hosts[0].Ports)
}

func TestRender(t *testing.T) {
	s := sampleSession(t)
	s.Hosts[0].Ports[1].ProtocolFailures = []string{"HTTP", "SSH"}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "127.0.0.1")
	assert.Contains(t, out, "Connection refused")
	assert.Contains(t, out, "Total open ports: 1")
	assert.Contains(t, out, "Total errors: 1")
	assert.Contains(t, out, "HTTP: 1")
	assert.Contains(t, out, "SSH: 1")
}

func TestRenderEmptySession(t *testing.T) {
	s := scanning.NewSession([]string{"192.0.2.0/30"})
	s.Interrupted = true

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, s))
	assert.Contains(t, buf.String(), "No live hosts found")
	assert.Contains(t, buf.String(), "Scan interrupted")
	assert.Contains(t, buf.String(), "Total open ports: 0")

	buf.Reset()
	require.NoError(t, Render(&buf, nil))
	assert.Contains(t, buf.String(), "No results available")
}

func TestFailureRecordsSkipCleanResults(t *testing.T) {
	s := sampleSession(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	records := FailureRecords(s, now)
	require.Len(t, records, 1)
	assert.Equal(t, uint16(80), records[0].Port)
	assert.Equal(t, scanning.UnknownService, records[0].Protocol)
	assert.Equal(t, "Connection refused", records[0].Error)
	assert.Equal(t, s.ID.String(), records[0].SessionID)
	assert.Equal(t, "2026-01-02T03:04:05Z", records[0].row()[0])
}

func TestFailureLogWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DefaultFailureLog)
	log := NewFailureLog(path)

	for i := 0; i < 2; i++ {
		s := sampleSession(t)
		require.NoError(t, log.Append(FailureRecords(s, time.Now())))
	}
	require.NoError(t, log.Append(nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, failureHeader, rows[0])
	assert.Equal(t, "80", rows[1][3])
	assert.NotEqual(t, rows[1][1], rows[2][1], "each session has its own id")
}

func TestFailureLogConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFailureLog)
	log := NewFailureLog(path)
	s := sampleSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, log.Append(FailureRecords(s, time.Now())))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 11)
}

func TestServiceExport(t *testing.T) {
	s := sampleSession(t)
	s.Hosts[0].Ports[0].Banner = "SSH-2.0-OpenSSH_9.6"

	path := filepath.Join(t.TempDir(), "services.json")
	require.NoError(t, ExportServices(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []ServiceRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Equal(t, []ServiceRecord{{
		Host: "127.0.0.1", Port: 22, Transport: scanning.TCP, Service: "SSH", Banner: "SSH-2.0-OpenSSH_9.6",
	}}, records)

	var buf bytes.Buffer
	require.NoError(t, WriteServices(&buf, scanning.NewSession(nil)))
	assert.Equal(t, "[]\n", buf.String())
}
