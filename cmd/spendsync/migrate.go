package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"spendsync/internal/cli"
	"spendsync/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath, err := migrationDB()
			if err != nil {
				return err
			}
			if err := storage.RunMigrations(dbPath); err != nil {
				return err
			}
			return printVersion(cmd, dbPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Revert migrations (default: 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid steps %q: %w", args[0], err)
				}
				steps = n
			}
			dbPath, err := migrationDB()
			if err != nil {
				return err
			}
			if err := storage.RollbackMigrations(dbPath, steps); err != nil {
				return err
			}
			return printVersion(cmd, dbPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath, err := migrationDB()
			if err != nil {
				return err
			}
			return printVersion(cmd, dbPath)
		},
	})
	return cmd
}

func migrationDB() (string, error) {
	cfg, _, err := cli.Bootstrap()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLiteDBPath), 0755); err != nil {
		return "", fmt.Errorf("create db directory: %w", err)
	}
	return cfg.SQLiteDBPath, nil
}

func printVersion(cmd *cobra.Command, dbPath string) error {
	version, dirty, err := storage.MigrationVersion(dbPath)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	cmd.Printf("%s: schema version %d (%s)\n", dbPath, version, state)
	return nil
}
