package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/anstrom/netscan/internal/config"
	"github.com/anstrom/netscan/internal/db"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(context.Context, *db.DB) error

// connectDatabase opens the configured database and applies pending
// migrations.
func connectDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.Connect(ctx, &cfg.Database.Config)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrator(database.DB).Up(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

// withDatabase executes the given operation with a database connection,
// closing it afterwards.
func withDatabase(ctx context.Context, cfg *config.Config, operation DatabaseOperation) error {
	database, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()
	return operation(ctx, database)
}
