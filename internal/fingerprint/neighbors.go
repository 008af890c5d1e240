package fingerprint

import (
	"bufio"
	"context"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netscan/internal/errors"
)

const (
	arpFieldCount    = 6
	arpFlagsComplete = 0x2
	zeroMAC          = "00:00:00:00:00:00"
)

// Neighbor is what a source knows about one address.
type Neighbor struct {
	MAC    string
	Vendor string
}

// Source resolves link-layer identities for addresses. Addresses it knows
// nothing about are left out of the map.
type Source interface {
	Name() string
	Resolve(ctx context.Context, addrs []netip.Addr) (map[netip.Addr]Neighbor, error)
}

// ARPTable reads the kernel neighbor table in /proc/net/arp format.
type ARPTable struct {
	Path string
}

func (a *ARPTable) Name() string { return "arp" }

func (a *ARPTable) Resolve(_ context.Context, addrs []netip.Addr) (map[netip.Addr]Neighbor, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := ParseARPTable(f)
	if err != nil {
		return nil, err
	}
	out := make(map[netip.Addr]Neighbor)
	for _, addr := range addrs {
		if mac, ok := table[addr]; ok {
			out[addr] = Neighbor{MAC: mac}
		}
	}
	return out, nil
}

// ParseARPTable parses /proc/net/arp. Incomplete entries and all-zero MACs
// are skipped.
func ParseARPTable(r io.Reader) (map[netip.Addr]string, error) {
	entries := make(map[netip.Addr]string)
	scanner := bufio.NewScanner(r)
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < arpFieldCount {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil || flags&arpFlagsComplete == 0 {
			continue
		}
		mac := NormalizeMAC(fields[3])
		if mac == "" || mac == zeroMAC {
			continue
		}
		entries[addr] = mac
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapScanError(errors.CodeDiscoveryFailed, "failed to read neighbor table", err)
	}
	return entries, nil
}

// NmapSource runs an nmap ping scan, which reports MAC and vendor for hosts
// on the local segment. It needs the nmap binary and, for ARP, privileges.
type NmapSource struct {
	Timeout time.Duration
}

func (n *NmapSource) Name() string { return "nmap" }

func (n *NmapSource) Resolve(ctx context.Context, addrs []netip.Addr) (map[netip.Addr]Neighbor, error) {
	if len(addrs) == 0 {
		return map[netip.Addr]Neighbor{}, nil
	}
	targets := make([]string, 0, len(addrs))
	for _, a := range addrs {
		targets = append(targets, a.String())
	}

	scanCtx, cancel := context.WithTimeout(ctx, n.Timeout*time.Duration(len(addrs)+1))
	defer cancel()

	scanner, err := nmap.NewScanner(scanCtx, buildNmapOptions(targets, n.Timeout)...)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeDiscoveryFailed, "failed to create nmap scanner", err)
	}
	result, _, err := scanner.Run()
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeDiscoveryFailed, "nmap ping scan failed", err)
	}

	out := make(map[netip.Addr]Neighbor)
	for i := range result.Hosts {
		if addr, neighbor, ok := neighborFromNmapHost(&result.Hosts[i]); ok {
			out[addr] = neighbor
		}
	}
	return out, nil
}

// buildNmapOptions picks a timing template from the per-host timeout.
func buildNmapOptions(targets []string, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
	}
	switch {
	case timeout <= 5*time.Second:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case timeout <= 15*time.Second:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	default:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}
	return options
}

// neighborFromNmapHost extracts the IP and MAC address entries of an up host.
func neighborFromNmapHost(host *nmap.Host) (netip.Addr, Neighbor, bool) {
	if host.Status.State != "up" {
		return netip.Addr{}, Neighbor{}, false
	}
	var addr netip.Addr
	var neighbor Neighbor
	for _, a := range host.Addresses {
		switch a.AddrType {
		case "ipv4", "ipv6":
			if parsed, err := netip.ParseAddr(a.Addr); err == nil {
				addr = parsed
			}
		case "mac":
			neighbor.MAC = NormalizeMAC(a.Addr)
			neighbor.Vendor = a.Vendor
		}
	}
	if !addr.IsValid() || neighbor.MAC == "" {
		return netip.Addr{}, Neighbor{}, false
	}
	return addr, neighbor, true
}
