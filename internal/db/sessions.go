package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/netscan/internal/scanning"
)

// SessionRow is a scan_sessions row.
type SessionRow struct {
	ID         uuid.UUID      `db:"id"`
	Targets    pq.StringArray `db:"targets"`
	PortSpec   string         `db:"port_spec"`
	Protocols  pq.StringArray `db:"protocols"`
	Transports pq.StringArray `db:"transports"`
	ProbeMode  string         `db:"probe_mode"`
	Status     string         `db:"status"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
	DurationMS int64          `db:"duration_ms"`
	Candidates int            `db:"candidates"`
	HostsLive  int            `db:"hosts_live"`
	PortsOpen  int            `db:"ports_open"`
	Errors     int            `db:"errors"`
}

type hostRow struct {
	SessionID uuid.UUID      `db:"session_id"`
	Address   string         `db:"address"`
	Method    string         `db:"method"`
	RTTMicros int64          `db:"rtt_us"`
	TTL       sql.NullInt32  `db:"ttl"`
	OSGuess   sql.NullString `db:"os_guess"`
	MAC       sql.NullString `db:"mac"`
	Vendor    sql.NullString `db:"vendor"`
}

type portRow struct {
	SessionID        uuid.UUID      `db:"session_id"`
	Address          string         `db:"address"`
	Port             int            `db:"port"`
	Transport        string         `db:"transport"`
	Status           string         `db:"status"`
	Service          string         `db:"service"`
	Banner           sql.NullString `db:"banner"`
	Error            sql.NullString `db:"error"`
	Attempts         int            `db:"attempts"`
	RTTMicros        int64          `db:"rtt_us"`
	ProtocolFailures pq.StringArray `db:"protocol_failures"`
}

const (
	insertSession = `
		INSERT INTO scan_sessions (id, targets, port_spec, protocols, transports, probe_mode,
			status, started_at, finished_at, duration_ms, candidates, hosts_live, ports_open, errors)
		VALUES (:id, :targets, :port_spec, :protocols, :transports, :probe_mode,
			:status, :started_at, :finished_at, :duration_ms, :candidates, :hosts_live, :ports_open, :errors)`

	insertHost = `
		INSERT INTO session_hosts (session_id, address, method, rtt_us, ttl, os_guess, mac, vendor)
		VALUES (:session_id, :address, :method, :rtt_us, :ttl, :os_guess, :mac, :vendor)`

	insertPort = `
		INSERT INTO port_results (session_id, address, port, transport, status, service,
			banner, error, attempts, rtt_us, protocol_failures)
		VALUES (:session_id, :address, :port, :transport, :status, :service,
			:banner, :error, :attempts, :rtt_us, :protocol_failures)`
)

// SessionRepository stores finished sessions.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save writes the session, its hosts and their port results in one
// transaction.
func (r *SessionRepository) Save(ctx context.Context, s *scanning.Session) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin save session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, insertSession, newSessionRow(s)); err != nil {
		return sanitizeDBError("insert session", err)
	}
	for i := range s.Hosts {
		host := &s.Hosts[i]
		if _, err := tx.NamedExecContext(ctx, insertHost, newHostRow(s.ID, host)); err != nil {
			return sanitizeDBError("insert host", err)
		}
		for _, p := range host.Ports {
			if _, err := tx.NamedExecContext(ctx, insertPort, newPortRow(s.ID, host, p)); err != nil {
				return sanitizeDBError("insert port result", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit session", err)
	}
	return nil
}

// Recent lists the most recent sessions, newest first.
func (r *SessionRepository) Recent(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []SessionRow
	query := `SELECT * FROM scan_sessions ORDER BY started_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, sanitizeDBError("list sessions", err)
	}
	return rows, nil
}

func newSessionRow(s *scanning.Session) SessionRow {
	transports := make([]string, len(s.Transports))
	for i, t := range s.Transports {
		transports[i] = string(t)
	}
	row := SessionRow{
		ID:         s.ID,
		Targets:    pq.StringArray(nonNil(s.Targets)),
		PortSpec:   s.PortSpec,
		Protocols:  pq.StringArray(nonNil(s.Protocols)),
		Transports: pq.StringArray(transports),
		ProbeMode:  s.ProbeMode,
		Status:     s.Status(),
		StartedAt:  s.StartTime,
		DurationMS: s.Duration.Milliseconds(),
		Candidates: s.Counters.Candidates,
		HostsLive:  s.Counters.HostsLive,
		PortsOpen:  s.Counters.PortsOpen,
		Errors:     s.Counters.Errors,
	}
	if !s.EndTime.IsZero() {
		row.FinishedAt = sql.NullTime{Time: s.EndTime, Valid: true}
	}
	return row
}

func newHostRow(id uuid.UUID, h *scanning.HostRecord) hostRow {
	row := hostRow{
		SessionID: id,
		Address:   h.Address.String(),
		Method:    h.Method,
		RTTMicros: h.RTT.Microseconds(),
		OSGuess:   nullString(h.OSGuess),
		MAC:       nullString(h.MAC),
		Vendor:    nullString(h.Vendor),
	}
	if h.TTL > 0 {
		row.TTL = sql.NullInt32{Int32: int32(h.TTL), Valid: true}
	}
	return row
}

func newPortRow(id uuid.UUID, h *scanning.HostRecord, p scanning.PortResult) portRow {
	return portRow{
		SessionID:        id,
		Address:          h.Address.String(),
		Port:             int(p.Port),
		Transport:        string(p.Transport),
		Status:           string(p.Status),
		Service:          p.Service,
		Banner:           nullString(p.Banner),
		Error:            nullString(p.Error),
		Attempts:         p.Attempts,
		RTTMicros:        p.RTT.Microseconds(),
		ProtocolFailures: pq.StringArray(nonNil(p.ProtocolFailures)),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
