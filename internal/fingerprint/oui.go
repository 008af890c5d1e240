package fingerprint

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/anstrom/netscan/internal/errors"
)

const ouiHexLen = 6

// builtinOUI covers vendors common on lab and office networks so lookups
// work without a downloaded database.
var builtinOUI = map[string]string{
	"00000C": "Cisco Systems, Inc",
	"000393": "Apple, Inc.",
	"000C29": "VMware, Inc.",
	"001422": "Dell Inc.",
	"00155D": "Microsoft Corporation",
	"00163E": "Xensource, Inc.",
	"001B21": "Intel Corporate",
	"001B78": "Hewlett Packard",
	"005056": "VMware, Inc.",
	"080027": "PCS Systemtechnik GmbH",
	"24A43C": "Ubiquiti Networks Inc.",
	"3C5AB4": "Google, Inc.",
	"525400": "QEMU virtual NIC",
	"B827EB": "Raspberry Pi Foundation",
	"DCA632": "Raspberry Pi Trading Ltd",
	"F4F5D8": "Google, Inc.",
}

// OUITable maps 24-bit MAC prefixes to vendor names.
type OUITable struct {
	mu      sync.RWMutex
	vendors map[string]string
}

// NewOUITable returns a table seeded with the built-in prefixes.
func NewOUITable() *OUITable {
	t := &OUITable{vendors: make(map[string]string, len(builtinOUI))}
	for k, v := range builtinOUI {
		t.vendors[k] = v
	}
	return t
}

// Len returns the number of known prefixes.
func (t *OUITable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vendors)
}

// Lookup returns the vendor for mac, or "" when the prefix is unknown.
func (t *OUITable) Lookup(mac string) string {
	prefix := ouiPrefix(mac)
	if prefix == "" {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vendors[prefix]
}

// Merge adds entries, overriding built-in names.
func (t *OUITable) Merge(entries map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range entries {
		t.vendors[k] = v
	}
}

// LoadFile merges an OUI database from path.
func (t *OUITable) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	entries, err := ParseOUI(f)
	if err != nil {
		return 0, err
	}
	t.Merge(entries)
	return len(entries), nil
}

// ParseOUI reads either a Wireshark manuf file ("00:00:0C<TAB>Cisco<TAB>Cisco
// Systems, Inc") or an IEEE oui.txt file ("00-00-0C   (hex)<TAB>Cisco
// Systems, Inc"). Prefixes longer than 24 bits are skipped.
func ParseOUI(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if prefix, vendor, ok := strings.Cut(line, "(hex)"); ok {
			if key := ouiPrefix(strings.TrimSpace(prefix)); key != "" {
				entries[key] = strings.TrimSpace(vendor)
			}
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		prefix := strings.TrimSpace(fields[0])
		if _, bits, ok := strings.Cut(prefix, "/"); ok && bits != "24" {
			continue
		}
		key := ouiPrefix(prefix)
		if key == "" {
			continue
		}
		vendor := strings.TrimSpace(fields[len(fields)-1])
		if vendor == "" {
			vendor = strings.TrimSpace(fields[1])
		}
		entries[key] = vendor
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapScanError(errors.CodeFileWrite, "failed to read OUI database", err)
	}
	return entries, nil
}

// ouiPrefix extracts the first six hex digits of a MAC or OUI string in
// any of the usual separators, upper-cased.
func ouiPrefix(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			b.WriteRune(r)
		case r >= 'a' && r <= 'f':
			b.WriteRune(r - 'a' + 'A')
		case r == ':' || r == '-' || r == '.':
		default:
			if b.Len() < ouiHexLen {
				return ""
			}
		}
		if b.Len() == ouiHexLen {
			return b.String()
		}
	}
	return ""
}

// NormalizeMAC formats a MAC as upper-case colon-separated octets. Inputs
// that are not 48-bit MACs return "".
func NormalizeMAC(mac string) string {
	var hex []rune
	for _, r := range strings.TrimSpace(mac) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			hex = append(hex, r)
		case r >= 'a' && r <= 'f':
			hex = append(hex, r-'a'+'A')
		case r == ':' || r == '-' || r == '.':
		default:
			return ""
		}
	}
	if len(hex) != 12 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(string(hex[i : i+2]))
	}
	return b.String()
}
