package targets

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscan/internal/errors"
)

func addrs(t *testing.T, ss ...string) []netip.Addr {
	t.Helper()
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		specs []string
		count int
		first string
		last  string
	}{
		{"single address", []string{"127.0.0.1"}, 1, "127.0.0.1", "127.0.0.1"},
		{"ipv4 /32", []string{"10.1.2.3/32"}, 1, "10.1.2.3", "10.1.2.3"},
		{"ipv4 /31 keeps both", []string{"10.0.0.0/31"}, 2, "10.0.0.0", "10.0.0.1"},
		{"ipv4 /30 drops network and broadcast", []string{"10.0.0.0/30"}, 2, "10.0.0.1", "10.0.0.2"},
		{"ipv4 /24", []string{"192.168.1.0/24"}, 254, "192.168.1.1", "192.168.1.254"},
		{"unmasked block is masked", []string{"192.168.1.77/24"}, 254, "192.168.1.1", "192.168.1.254"},
		{"ipv4 /16 minimum", []string{"172.16.0.0/16"}, 65534, "172.16.0.1", "172.16.255.254"},
		{"full range", []string{"10.0.0.250-10.0.1.2"}, 9, "10.0.0.250", "10.0.1.2"},
		{"shorthand range", []string{"192.168.1.10-20"}, 11, "192.168.1.10", "192.168.1.20"},
		{"ipv6 /128", []string{"::1/128"}, 1, "::1", "::1"},
		{"ipv6 /127", []string{"2001:db8::/127"}, 2, "2001:db8::", "2001:db8::1"},
		{"ipv6 /126 drops network only", []string{"2001:db8::/126"}, 3, "2001:db8::1", "2001:db8::3"},
		{"ipv6 range", []string{"fe80::1-fe80::4"}, 4, "fe80::1", "fe80::4"},
		{"comma list dedupes", []string{"10.0.0.1,10.0.0.1-3", "10.0.0.2"}, 3, "10.0.0.1", "10.0.0.3"},
		{"mapped address unmaps", []string{"::ffff:10.0.0.9"}, 1, "10.0.0.9", "10.0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.specs...)
			require.NoError(t, err)
			require.Len(t, got, tt.count)
			assert.Equal(t, netip.MustParseAddr(tt.first), got[0])
			assert.Equal(t, netip.MustParseAddr(tt.last), got[len(got)-1])
		})
	}
}

func TestResolveIsDeterministicAndUnique(t *testing.T) {
	specs := []string{"10.9.0.0/22,10.9.1.5-10.9.4.10", "10.9.3.3"}

	first, err := Resolve(specs...)
	require.NoError(t, err)
	second, err := Resolve(specs...)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	seen := make(map[netip.Addr]bool, len(first))
	for i, a := range first {
		assert.False(t, seen[a], "duplicate %s", a)
		seen[a] = true
		if i > 0 {
			assert.True(t, first[i-1].Less(a), "not ascending at %d", i)
		}
	}
}

func TestResolveMixedFamiliesSorted(t *testing.T) {
	got, err := Resolve("::1", "10.0.0.2", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, addrs(t, "10.0.0.1", "10.0.0.2", "::1"), got)
}

func TestResolveInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"empty", ""},
		{"garbage", "not-an-ip"},
		{"bad octet", "300.1.1.1"},
		{"hostname", "example.com"},
		{"ipv4 block too wide", "10.0.0.0/15"},
		{"ipv6 block too wide", "2001:db8::/64"},
		{"bad prefix", "10.0.0.0/33"},
		{"reversed range", "10.0.0.9-10.0.0.1"},
		{"reversed shorthand", "10.0.0.9-1"},
		{"mixed family range", "10.0.0.1-::1"},
		{"shorthand out of range", "10.0.0.1-256"},
		{"range too large", "10.0.0.0-10.2.0.0"},
		{"only commas", ",,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.spec)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid), "got %v", err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestParseKinds(t *testing.T) {
	spec, err := Parse("10.0.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, KindBlock, spec.Kind)
	assert.Equal(t, "10.0.0.0/24", spec.String())
	assert.Equal(t, "cidr", spec.Kind.String())

	spec, err = Parse(" 10.0.0.5-7 ")
	require.NoError(t, err)
	assert.Equal(t, KindRange, spec.Kind)
	assert.Equal(t, "10.0.0.5-10.0.0.7", spec.String())

	spec, err = Parse("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, KindSingle, spec.Kind)
	assert.Len(t, spec.Addresses(), 1)
}

func TestRangeAtCap(t *testing.T) {
	got, err := Resolve("10.0.0.0-10.0.255.255")
	require.NoError(t, err)
	assert.Len(t, got, MaxRangeSize)
}
