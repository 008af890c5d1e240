package scanning

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscan/internal/errors"
)

func TestDefaultPorts(t *testing.T) {
	ports := DefaultPorts()
	require.Len(t, ports, 1025)
	assert.Equal(t, uint16(0), ports[0])
	assert.Equal(t, uint16(1024), ports[1024])
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []uint16
	}{
		{"single", "22", []uint16{22}},
		{"list", "80,22", []uint16{22, 80}},
		{"range", "20-23", []uint16{20, 21, 22, 23}},
		{"mixed and deduped", "22, 20-23,80,22", []uint16{20, 21, 22, 23, 80}},
		{"zero and max", "0,65535", []uint16{0, 65535}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePorts(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("empty spec selects defaults", func(t *testing.T) {
		got, err := ParsePorts("  ")
		require.NoError(t, err)
		assert.Len(t, got, DefaultPortCount)
	})
}

func TestParsePortsInvalid(t *testing.T) {
	for _, spec := range []string{"abc", "65536", "-1", "10-5", "1-2-3", "22,,80", "80-"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParsePorts(spec)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodePortInvalid), "got %v", err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestParsePortsErrorNamesSpecAndEntry(t *testing.T) {
	_, err := ParsePorts("22,10-5")
	require.Error(t, err)

	var scanErr *errors.ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, errors.CodePortInvalid, scanErr.Code)
	assert.Equal(t, "22,10-5", scanErr.Target)
	require.Error(t, scanErr.Cause)
	assert.Equal(t, "range start greater than end: 10-5", scanErr.Cause.Error())
	assert.Contains(t, err.Error(), "Invalid port specification (target: 22,10-5)")
}

func TestNormalizePorts(t *testing.T) {
	got, err := NormalizePorts(nil)
	require.NoError(t, err)
	assert.Len(t, got, DefaultPortCount)

	got, err = NormalizePorts([]uint16{80, 22, 80})
	require.NoError(t, err)
	assert.Equal(t, []uint16{22, 80}, got)

	_, err = NormalizePorts([]uint16{})
	assert.True(t, errors.IsCode(err, errors.CodePortInvalid))
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "0-1024", FormatPorts(DefaultPorts()))
	assert.Equal(t, "22,80-82,443", FormatPorts([]uint16{22, 80, 81, 82, 443}))
	assert.Equal(t, "65535", FormatPorts([]uint16{65535}))
	assert.Equal(t, "", FormatPorts(nil))
}

func TestParseTransport(t *testing.T) {
	tr, ok := ParseTransport(" UDP ")
	assert.True(t, ok)
	assert.Equal(t, UDP, tr)
	_, ok = ParseTransport("sctp")
	assert.False(t, ok)
}

func TestPortResultClean(t *testing.T) {
	r := NewPortResult(22, TCP)
	assert.False(t, r.Clean())

	r.Status = StatusOpen
	assert.False(t, r.Clean(), "open with unknown service is not clean")

	r.Service = "SSH"
	assert.True(t, r.Clean())

	r.Status = StatusFiltered
	assert.False(t, r.Clean())
}

func TestHostRecordSortPorts(t *testing.T) {
	h := HostRecord{Ports: []PortResult{
		{Port: 80, Transport: UDP},
		{Port: 22, Transport: TCP},
		{Port: 80, Transport: TCP},
	}}
	h.SortPorts()
	assert.Equal(t, uint16(22), h.Ports[0].Port)
	assert.Equal(t, TCP, h.Ports[1].Transport)
	assert.Equal(t, UDP, h.Ports[2].Transport)
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession([]string{"127.0.0.1"})
	assert.NotEqual(t, [16]byte{}, [16]byte(s.ID))
	assert.Equal(t, "completed", s.Status())

	time.Sleep(time.Millisecond)
	s.Complete()
	assert.True(t, s.Duration > 0)

	s.Interrupted = true
	assert.Equal(t, "interrupted", s.Status())
}

func TestHostLimiter(t *testing.T) {
	l := NewHostLimiter(2)
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")

	require.NoError(t, l.Acquire(context.Background(), a))
	require.NoError(t, l.Acquire(context.Background(), a))
	require.NoError(t, l.Acquire(context.Background(), b), "hosts have independent slots")
	assert.Equal(t, 2, l.Active(a))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, a)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))

	l.Release(a)
	require.NoError(t, l.Acquire(context.Background(), a))

	l.Release(a)
	l.Release(a)
	l.Release(a) // extra release is ignored
	assert.Equal(t, 0, l.Active(a))
}

func TestHostLimiterConcurrent(t *testing.T) {
	l := NewHostLimiter(3)
	addr := netip.MustParseAddr("10.0.0.1")

	var mu sync.Mutex
	peak, current := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background(), addr))
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			l.Release(addr)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 3)
}
