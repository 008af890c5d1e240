// Package fingerprint resolves the MAC address and hardware vendor of
// discovered hosts from the local neighbor table, with an optional nmap
// fallback and an OUI vendor database that can be downloaded and cached.
package fingerprint

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/anstrom/netscan/internal/logging"
)

// Result is the fingerprint of one host. A host off the local segment
// yields an empty MAC and vendor; that is not an error.
type Result struct {
	Address netip.Addr `json:"address"`
	MAC     string     `json:"mac,omitempty"`
	Vendor  string     `json:"vendor,omitempty"`
	Source  string     `json:"source,omitempty"`
}

// Config controls neighbor sources and the OUI database.
type Config struct {
	ARPTable  string
	UseNmap   bool
	OUIFile   string
	OUIURL    string
	OUIMaxAge time.Duration
	Timeout   time.Duration
}

// Fingerprinter resolves MAC and vendor for hosts.
type Fingerprinter struct {
	config     Config
	sources    []Source
	table      *OUITable
	downloader *Downloader
	logger     *logging.Logger
}

// Option customizes a Fingerprinter.
type Option func(*Fingerprinter)

// WithSources replaces the neighbor sources derived from the config.
func WithSources(sources ...Source) Option {
	return func(f *Fingerprinter) { f.sources = sources }
}

// WithLogger sets the fingerprinter logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Fingerprinter) { f.logger = l }
}

// New creates a fingerprinter. The neighbor table is always consulted
// first; nmap follows when enabled.
func New(config Config, opts ...Option) *Fingerprinter {
	if config.ARPTable == "" {
		config.ARPTable = "/proc/net/arp"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	f := &Fingerprinter{
		config:     config,
		sources:    []Source{&ARPTable{Path: config.ARPTable}},
		table:      NewOUITable(),
		downloader: NewDownloader(),
		logger:     logging.Default(),
	}
	if config.UseNmap {
		f.sources = append(f.sources, &NmapSource{Timeout: config.Timeout})
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithComponent("fingerprint")
	return f
}

// Vendors returns the OUI table used for vendor lookups.
func (f *Fingerprinter) Vendors() *OUITable {
	return f.table
}

// Prepare refreshes and loads the OUI database. Failures leave the
// built-in table in place and are returned for logging only.
func (f *Fingerprinter) Prepare() error {
	if f.config.OUIFile == "" {
		return nil
	}
	if f.config.OUIURL != "" {
		downloaded, err := f.downloader.Fetch(f.config.OUIURL, f.config.OUIFile, f.config.OUIMaxAge)
		if err != nil {
			f.logger.Warn("OUI database refresh failed", "url", f.config.OUIURL, "error", err)
		} else if downloaded {
			f.logger.Info("OUI database downloaded", "path", f.config.OUIFile)
		}
	}
	n, err := f.table.LoadFile(f.config.OUIFile)
	if err != nil {
		return fmt.Errorf("failed to load OUI database %s: %w", f.config.OUIFile, err)
	}
	f.logger.Debug("OUI database loaded", "path", f.config.OUIFile, "entries", n)
	return nil
}

// Fingerprint resolves one host.
func (f *Fingerprinter) Fingerprint(ctx context.Context, addr netip.Addr) Result {
	return f.FingerprintAll(ctx, []netip.Addr{addr})[addr]
}

// FingerprintAll resolves every address, asking each source in turn about
// the addresses still unresolved. Loopback and unspecified addresses get an
// empty result without consulting any source. Source failures and panics
// are logged and never abort the caller.
func (f *Fingerprinter) FingerprintAll(ctx context.Context, addrs []netip.Addr) map[netip.Addr]Result {
	results := make(map[netip.Addr]Result, len(addrs))
	pending := make([]netip.Addr, 0, len(addrs))
	for _, addr := range addrs {
		results[addr] = Result{Address: addr}
		if addr.IsValid() && !addr.IsLoopback() && !addr.IsUnspecified() {
			pending = append(pending, addr)
		}
	}

	for _, source := range f.sources {
		if len(pending) == 0 || ctx.Err() != nil {
			break
		}
		found := f.resolve(ctx, source, pending)

		remaining := pending[:0]
		for _, addr := range pending {
			n, ok := found[addr]
			if !ok || n.MAC == "" {
				remaining = append(remaining, addr)
				continue
			}
			vendor := n.Vendor
			if vendor == "" {
				vendor = f.table.Lookup(n.MAC)
			}
			results[addr] = Result{Address: addr, MAC: n.MAC, Vendor: vendor, Source: source.Name()}
		}
		pending = remaining
	}
	return results
}

func (f *Fingerprinter) resolve(ctx context.Context, source Source, addrs []netip.Addr) (found map[netip.Addr]Neighbor) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Neighbor source panicked", "source", source.Name(), "panic", r)
			found = nil
		}
	}()
	found, err := source.Resolve(ctx, addrs)
	if err != nil {
		f.logger.Debug("Neighbor source failed", "source", source.Name(), "error", err)
		return nil
	}
	return found
}
