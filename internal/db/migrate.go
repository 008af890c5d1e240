package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is a row of schema_migrations.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// Migrator applies the embedded schema migrations in name order.
type Migrator struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db, logger: logging.Default().WithComponent("migrate")}
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return sanitizeDBError("create migrations table", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]Migration, error) {
	var rows []Migration
	query := `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`
	if err := m.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, sanitizeDBError("list migrations", err)
	}
	out := make(map[string]Migration, len(rows))
	for _, r := range rows {
		out[r.Name] = r
	}
	return out, nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (m *Migrator) execute(ctx context.Context, file string) error {
	content, err := migrationFiles.ReadFile(path.Join("migrations", file))
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "Failed to read migration", file, err)
	}
	name := strings.TrimSuffix(file, ".sql")

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin migration", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return sanitizeDBError("apply migration "+name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`,
		name, checksum(content)); err != nil {
		return sanitizeDBError("record migration "+name, err)
	}
	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit migration "+name, err)
	}
	return nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	files, err := migrationNames()
	if err != nil {
		return errors.WrapStoreError(errors.CodeDatabaseQuery, "Failed to read migrations", "migrate", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(file, ".sql")
		if _, ok := applied[name]; ok {
			m.logger.Debug("Migration already applied", "migration", name)
			continue
		}
		if err := m.execute(ctx, file); err != nil {
			return err
		}
		m.logger.Info("Applied migration", "migration", name)
	}
	return nil
}
