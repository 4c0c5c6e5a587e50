package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lexchat/internal/config"
	"lexchat/internal/logging"
	"lexchat/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log)

	db, err := storage.Open(cfg.BasicConfig.Database, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("schema up to date", "database", cfg.BasicConfig.Database)
	return nil
}
