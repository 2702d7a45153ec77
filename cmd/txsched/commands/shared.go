package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/solagent/txsched/config"
	"github.com/solagent/txsched/db"
	"github.com/solagent/txsched/logger"
)

// loadConfig honors the --config flag when given, otherwise the
// standard search (./txsched.toml plus TXSCHED_* env).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the configured SQLite database.
func openDatabase(cmd *cobra.Command) (*sql.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
