package fingerprint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
)

const arpSample = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         00:50:56:c0:00:08     *        eth0
192.168.1.20     0x1         0x0         00:00:00:00:00:00     *        eth0
192.168.1.30     0x1         0x2         b8:27:eb:12:34:56     *        eth0
bogus            0x1         0x2         b8:27:eb:12:34:57     *        eth0
`

const manufSample = `# Wireshark manuf
00:00:0C	Cisco	Cisco Systems, Inc
AC:DE:48	Private
00:1B:C5:00:00:00/36	Convergi	Converging Systems Inc.
`

const ouiSample = `OUI/MA-L                                                    Organization
company_id                                                  Organization
                                                            Address

28-6F-B9   (hex)		Nokia Shanghai Bell Co., Ltd.
286FB9     (base 16)		Nokia Shanghai Bell Co., Ltd.
`

type stubSource struct {
	name  string
	found map[netip.Addr]Neighbor
	err   error
	calls atomic.Int32
	panic bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Resolve(_ context.Context, addrs []netip.Addr) (map[netip.Addr]Neighbor, error) {
	s.calls.Add(1)
	if s.panic {
		panic("boom")
	}
	return s.found, s.err
}

func TestParseARPTable(t *testing.T) {
	entries, err := ParseARPTable(strings.NewReader(arpSample))
	require.NoError(t, err)
	assert.Equal(t, map[netip.Addr]string{
		netip.MustParseAddr("192.168.1.1"):  "00:50:56:C0:00:08",
		netip.MustParseAddr("192.168.1.30"): "B8:27:EB:12:34:56",
	}, entries)
}

func TestARPTableResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(arpSample), 0o644))

	src := &ARPTable{Path: path}
	found, err := src.Resolve(context.Background(), []netip.Addr{
		netip.MustParseAddr("192.168.1.30"),
		netip.MustParseAddr("192.168.1.99"),
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "B8:27:EB:12:34:56", found[netip.MustParseAddr("192.168.1.30")].MAC)

	_, err = (&ARPTable{Path: filepath.Join(t.TempDir(), "missing")}).Resolve(context.Background(), nil)
	assert.Error(t, err)
}

func TestParseOUI(t *testing.T) {
	manuf, err := ParseOUI(strings.NewReader(manufSample))
	require.NoError(t, err)
	assert.Equal(t, "Cisco Systems, Inc", manuf["00000C"])
	assert.Equal(t, "Private", manuf["ACDE48"])
	assert.NotContains(t, manuf, "001BC5", "36-bit blocks are skipped")

	ieee, err := ParseOUI(strings.NewReader(ouiSample))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"286FB9": "Nokia Shanghai Bell Co., Ltd."}, ieee)
}

func TestOUITableLookup(t *testing.T) {
	table := NewOUITable()
	assert.Equal(t, "VMware, Inc.", table.Lookup("00:50:56:c0:00:08"))
	assert.Equal(t, "VMware, Inc.", table.Lookup("00-50-56-C0-00-08"))
	assert.Equal(t, "", table.Lookup("12:34:56:78:9a:bc"))
	assert.Equal(t, "", table.Lookup("zz"))

	table.Merge(map[string]string{"123456": "Example"})
	assert.Equal(t, "Example", table.Lookup("12:34:56:78:9a:bc"))
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC("aabb.ccdd.eeff"))
	assert.Equal(t, "", NormalizeMAC("aa:bb:cc"))
	assert.Equal(t, "", NormalizeMAC("not a mac"))
}

func TestFingerprintLoopbackIsEmpty(t *testing.T) {
	src := &stubSource{name: "stub"}
	f := New(Config{}, WithSources(src), WithLogger(logging.Discard()))

	for _, s := range []string{"127.0.0.1", "::1"} {
		addr := netip.MustParseAddr(s)
		assert.NotPanics(t, func() {
			r := f.Fingerprint(context.Background(), addr)
			assert.Equal(t, Result{Address: addr}, r)
		})
	}
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestFingerprintAllFallsThroughSources(t *testing.T) {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	c := netip.MustParseAddr("10.0.0.3")

	arp := &stubSource{name: "arp", found: map[netip.Addr]Neighbor{a: {MAC: "00:0C:29:11:22:33"}}}
	fallback := &stubSource{name: "nmap", found: map[netip.Addr]Neighbor{
		a: {MAC: "FF:FF:FF:FF:FF:FF"},
		b: {MAC: "52:54:00:AA:BB:CC", Vendor: "Custom Vendor"},
	}}
	f := New(Config{}, WithSources(arp, fallback), WithLogger(logging.Discard()))

	results := f.FingerprintAll(context.Background(), []netip.Addr{a, b, c})
	require.Len(t, results, 3)
	assert.Equal(t, Result{Address: a, MAC: "00:0C:29:11:22:33", Vendor: "VMware, Inc.", Source: "arp"}, results[a])
	assert.Equal(t, Result{Address: b, MAC: "52:54:00:AA:BB:CC", Vendor: "Custom Vendor", Source: "nmap"}, results[b])
	assert.Equal(t, Result{Address: c}, results[c])
}

func TestFingerprintSurvivesFailingSources(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	broken := &stubSource{name: "broken", err: errors.NewScanError(errors.CodeDiscoveryFailed, "nope")}
	panicky := &stubSource{name: "panicky", panic: true}
	f := New(Config{}, WithSources(broken, panicky), WithLogger(logging.Discard()))

	assert.NotPanics(t, func() {
		assert.Equal(t, Result{Address: addr}, f.Fingerprint(context.Background(), addr))
	})
	assert.Equal(t, int32(1), panicky.calls.Load())
}

func TestNewUsesNmapWhenEnabled(t *testing.T) {
	f := New(Config{UseNmap: true}, WithLogger(logging.Discard()))
	require.Len(t, f.sources, 2)
	assert.Equal(t, "arp", f.sources[0].Name())
	assert.Equal(t, "nmap", f.sources[1].Name())
}

func TestNeighborFromNmapHost(t *testing.T) {
	host := &nmap.Host{
		Status: nmap.Status{State: "up"},
		Addresses: []nmap.Address{
			{Addr: "10.0.0.5", AddrType: "ipv4"},
			{Addr: "00:50:56:aa:bb:cc", AddrType: "mac", Vendor: "VMware"},
		},
	}
	addr, n, ok := neighborFromNmapHost(host)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", addr.String())
	assert.Equal(t, Neighbor{MAC: "00:50:56:AA:BB:CC", Vendor: "VMware"}, n)

	host.Status.State = "down"
	_, _, ok = neighborFromNmapHost(host)
	assert.False(t, ok)

	_, _, ok = neighborFromNmapHost(&nmap.Host{
		Status:    nmap.Status{State: "up"},
		Addresses: []nmap.Address{{Addr: "10.0.0.6", AddrType: "ipv4"}},
	})
	assert.False(t, ok, "hosts off the local segment carry no MAC")
}

func TestBuildNmapOptions(t *testing.T) {
	assert.Len(t, buildNmapOptions([]string{"10.0.0.1"}, time.Second), 3)
	assert.Len(t, buildNmapOptions([]string{"10.0.0.1", "10.0.0.2"}, time.Minute), 3)
}

func TestDownloaderFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/manuf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(manufSample))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "cache", "manuf")
	d := NewDownloader()

	downloaded, err := d.Fetch(srv.URL+"/manuf", path, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, downloaded)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, manufSample, string(data))

	downloaded, err = d.Fetch(srv.URL+"/manuf", path, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, downloaded, "fresh cache is reused")
	assert.Equal(t, int32(1), hits.Load())

	d.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	downloaded, err = d.Fetch(srv.URL+"/manuf", path, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, downloaded, "stale cache is refreshed")

	_, err = d.Fetch(srv.URL+"/missing", filepath.Join(t.TempDir(), "other"), time.Hour)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDownloadFailed))
}

func TestPrepareLoadsDownloadedDatabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ouiSample))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "oui.txt")
	f := New(Config{OUIFile: path, OUIURL: srv.URL, OUIMaxAge: time.Hour},
		WithSources(), WithLogger(logging.Discard()))
	require.NoError(t, f.Prepare())
	assert.Equal(t, "Nokia Shanghai Bell Co., Ltd.", f.Vendors().Lookup("28:6f:b9:00:00:01"))

	missing := New(Config{OUIFile: filepath.Join(t.TempDir(), "none")}, WithLogger(logging.Discard()))
	assert.Error(t, missing.Prepare())
	assert.NoError(t, New(Config{}, WithLogger(logging.Discard())).Prepare())
}
