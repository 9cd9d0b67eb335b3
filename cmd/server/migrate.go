package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/database"
	"github.com/KlutzyFella/Papyrus/internal/model"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新数据库表",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := database.Open(cfg.Database, cfg.Server.Mode)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(model.AllModels()), cfg.Database.Driver)
			return nil
		},
	}
}
