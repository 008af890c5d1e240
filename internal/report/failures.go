package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/scanning"
)

// DefaultFailureLog is the failure summary file name.
const DefaultFailureLog = "netscan_protocol_summary.csv"

const failureLogPerm = 0644

var failureHeader = []string{
	"timestamp", "session_id", "host", "port", "transport", "protocol", "status", "error",
}

// FailureRecord is one row of the failure summary.
type FailureRecord struct {
	Timestamp time.Time
	SessionID string
	Host      string
	Port      uint16
	Transport scanning.Transport
	Protocol  string
	Status    scanning.PortStatus
	Error     string
}

func (r FailureRecord) row() []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.SessionID,
		r.Host,
		strconv.Itoa(int(r.Port)),
		string(r.Transport),
		r.Protocol,
		string(r.Status),
		r.Error,
	}
}

// FailureRecords lists a row for every result that is not open with a
// known service. Protocol names the detectors that failed, or the service
// when none did.
func FailureRecords(s *scanning.Session, now time.Time) []FailureRecord {
	var records []FailureRecord
	for i := range s.Hosts {
		host := &s.Hosts[i]
		for _, p := range host.Ports {
			if p.Clean() {
				continue
			}
			protocol := p.Service
			if len(p.ProtocolFailures) > 0 {
				protocol = strings.Join(p.ProtocolFailures, ";")
			}
			records = append(records, FailureRecord{
				Timestamp: now,
				SessionID: s.ID.String(),
				Host:      host.Address.String(),
				Port:      p.Port,
				Transport: p.Transport,
				Protocol:  protocol,
				Status:    p.Status,
				Error:     p.Error,
			})
		}
	}
	return records
}

// FailureLog appends failure rows to a CSV file shared across sessions.
// The header is written only when the file is new or empty.
type FailureLog struct {
	path string
	mu   sync.Mutex
}

// NewFailureLog returns a log writing to path.
func NewFailureLog(path string) *FailureLog {
	if path == "" {
		path = DefaultFailureLog
	}
	return &FailureLog{path: path}
}

// Path returns the CSV file path.
func (l *FailureLog) Path() string {
	return l.path
}

// Append writes records to the end of the file.
func (l *FailureLog) Append(records []FailureRecord) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to create report directory", l.path, err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, failureLogPerm)
	if err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to open failure summary", l.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to stat failure summary", l.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(failureHeader); err != nil {
			return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to write failure summary", l.path, err)
		}
	}
	for _, r := range records {
		if err := w.Write(r.row()); err != nil {
			return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to write failure summary", l.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to write failure summary", l.path, err)
	}
	return nil
}
