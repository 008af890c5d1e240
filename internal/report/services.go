package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/scanning"
)

// ServiceRecord is one identified service, the input of advisory lookups.
type ServiceRecord struct {
	Host      string             `json:"host"`
	Port      uint16             `json:"port"`
	Transport scanning.Transport `json:"transport"`
	Service   string             `json:"service"`
	Banner    string             `json:"banner,omitempty"`
}

// ServiceRecords lists every open port with an identified service, in
// session order.
func ServiceRecords(s *scanning.Session) []ServiceRecord {
	records := make([]ServiceRecord, 0)
	for i := range s.Hosts {
		host := &s.Hosts[i]
		for _, p := range host.Ports {
			if !p.Clean() {
				continue
			}
			records = append(records, ServiceRecord{
				Host:      host.Address.String(),
				Port:      p.Port,
				Transport: p.Transport,
				Service:   p.Service,
				Banner:    p.Banner,
			})
		}
	}
	return records
}

// WriteServices encodes the service records as an indented JSON array.
func WriteServices(w io.Writer, s *scanning.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ServiceRecords(s))
}

// ExportServices writes the service records to path, replacing it.
func ExportServices(path string, s *scanning.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to create services export", path, err)
	}
	if err := WriteServices(f, s); err != nil {
		f.Close()
		return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to write services export", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to close services export", path, err)
	}
	return nil
}
