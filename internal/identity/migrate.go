package identity

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Register migrate's sqlite3 database driver.
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	// Register the sqlite3 driver used by database/sql.
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// openDB opens the per-vault SQLite file in WAL mode and applies any
// pending schema migrations.
func openDB(dbPath string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping identity store: %w", err)
	}

	if err := migrateUp(dbPath, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(dbPath string, logger *slog.Logger) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load identity store migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite3://"+dbPath)
	if err != nil {
		return fmt.Errorf("prepare identity store migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			logger.Warn("closing migration db handle", "error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply identity store migrations: %w", err)
	}
	return nil
}
