package db

import (
	"context"
	"database/sql"
	"net/netip"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/scanning"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return &DB{DB: sqlx.NewDb(raw, "postgres")}, mock
}

func finishedSession() *scanning.Session {
	s := scanning.NewSession([]string{"127.0.0.1"})
	s.PortSpec = "22,80"
	s.Transports = []scanning.Transport{scanning.TCP}
	s.ProbeMode = "tcp"

	open := scanning.NewPortResult(22, scanning.TCP)
	open.Status = scanning.StatusOpen
	open.Service = "SSH"
	open.Banner = "SSH-2.0-OpenSSH_9.6"
	closed := scanning.NewPortResult(80, scanning.TCP)
	closed.Status = scanning.StatusClosed
	closed.Error = "Connection refused"
	closed.ProtocolFailures = []string{"HTTP"}

	s.Hosts = []scanning.HostRecord{{
		Address: netip.MustParseAddr("127.0.0.1"),
		Live:    true,
		Method:  "tcp",
		TTL:     64,
		Ports:   []scanning.PortResult{open, closed},
	}}
	s.Counters = scanning.Counters{Candidates: 1, HostsLive: 1, PortsOpen: 1, Errors: 1}
	s.Complete()
	return s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
	assert.Equal(t, "host=localhost port=5432 dbname= user= password= sslmode=disable", cfg.DSN())
}

func TestConnectFailureHidesDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Password = "hunter2"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, &cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseConnection))
	var storeErr *errors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.NotContains(t, storeErr.Message, "hunter2")
}

func TestSanitizeDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{"no rows", sql.ErrNoRows, errors.CodeDatabaseQuery},
		{"unique", &pq.Error{Code: "23505"}, errors.CodeValidation},
		{"foreign key", &pq.Error{Code: "23503"}, errors.CodeValidation},
		{"canceled", &pq.Error{Code: "57014"}, errors.CodeCanceled},
		{"shutdown", &pq.Error{Code: "57P01"}, errors.CodeDatabaseConnection},
		{"connection", &pq.Error{Code: "08006"}, errors.CodeDatabaseConnection},
		{"other pq", &pq.Error{Code: "42P01"}, errors.CodeDatabaseQuery},
		{"generic", assert.AnError, errors.CodeDatabaseQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeDBError("op", tt.err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, sanitizeDBError("op", nil))
}

func TestSessionRepositorySave(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)
	s := finishedSession()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_hosts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO port_results")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO port_results")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositorySaveRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_hosts")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Save(context.Background(), finishedSession())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)
	s := finishedSession()

	rows := sqlmock.NewRows([]string{
		"id", "targets", "port_spec", "protocols", "transports", "probe_mode", "status",
		"started_at", "finished_at", "duration_ms", "candidates", "hosts_live", "ports_open", "errors",
	}).AddRow(
		s.ID.String(), []byte("{127.0.0.1}"), "22,80", []byte("{}"), []byte("{tcp}"), "tcp", "completed",
		s.StartTime, s.EndTime, int64(12), 1, 1, 1, 1,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM scan_sessions ORDER BY started_at DESC LIMIT $1")).
		WithArgs(20).
		WillReturnRows(rows)

	got, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.ID, got[0].ID)
	assert.Equal(t, []string{"127.0.0.1"}, []string(got[0].Targets))
	assert.Equal(t, []string{"tcp"}, []string(got[0].Transports))
	assert.True(t, got[0].FinishedAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowMapping(t *testing.T) {
	s := finishedSession()
	s.Interrupted = true

	row := newSessionRow(s)
	assert.Equal(t, "interrupted", row.Status)
	assert.Equal(t, []string{}, []string(row.Protocols))
	assert.True(t, row.FinishedAt.Valid)

	host := newHostRow(s.ID, &s.Hosts[0])
	assert.Equal(t, "127.0.0.1", host.Address)
	assert.Equal(t, int32(64), host.TTL.Int32)
	assert.False(t, host.MAC.Valid)

	port := newPortRow(s.ID, &s.Hosts[0], s.Hosts[0].Ports[1])
	assert.Equal(t, "closed", port.Status)
	assert.Equal(t, "Connection refused", port.Error.String)
	assert.False(t, port.Banner.Valid)
	assert.Equal(t, []string{"HTTP"}, []string(port.ProtocolFailures))
}

func TestMigratorAppliesPending(t *testing.T) {
	db, mock := newMockDB(t)
	m := NewMigrator(db.DB)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("001_sessions", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorSkipsApplied(t *testing.T) {
	db, mock := newMockDB(t)
	m := NewMigrator(db.DB)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_sessions", time.Now(), "abc"))

	require.NoError(t, m.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
