package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/solagent/txsched/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies pending migrations in filename order. Each runs in
// its own transaction and is recorded in schema_migrations, which the
// 000 migration bootstraps. A nil log falls back to a no-op logger.
func Migrate(conn *sql.DB, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "failed to read embedded migrations")
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		ran, err := applyMigration(conn, name, log)
		if err != nil {
			return err
		}
		if ran {
			applied++
		}
	}

	log.Infow("Migrations complete", "applied", applied, "total", len(names))
	return nil
}

func applyMigration(conn *sql.DB, name string, log *zap.SugaredLogger) (bool, error) {
	version, _, _ := strings.Cut(name, "_")

	var exists bool
	err := conn.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	if err != nil && version != "000" {
		// Only the bootstrap migration may run before the table exists.
		return false, errors.Wrapf(err, "schema_migrations missing before %s", name)
	}
	if err == nil && exists {
		log.Debugw("Migration already applied", "migration", name)
		return false, nil
	}

	script, err := migrationFS.ReadFile("migrations/" + name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", name)
	}

	tx, err := conn.Begin()
	if err != nil {
		return false, errors.Wrapf(err, "failed to begin transaction for %s", name)
	}
	if _, err := tx.Exec(string(script)); err != nil {
		tx.Rollback()
		return false, errors.Wrapf(err, "failed to execute %s", name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return false, errors.Wrapf(err, "failed to record %s", name)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "failed to commit %s", name)
	}

	log.Infow("Applied migration", "migration", name)
	return true, nil
}
