package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/ocpilink/internal/config"
	"github.com/smallbiznis/ocpilink/internal/migration"
	"github.com/smallbiznis/ocpilink/internal/observability"
	"github.com/smallbiznis/ocpilink/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conn *gorm.DB
		app := fx.New(
			fx.NopLogger,
			config.Module,
			observability.Module,
			db.Module,
			migration.Module,
			fx.Populate(&conn),
		)
		if err := app.Err(); err != nil {
			return err
		}

		startCtx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			return err
		}
		defer app.Stop(context.Background())

		if conn.Dialector.Name() != "postgres" {
			fmt.Fprintf(cmd.OutOrStdout(), "schema synced (%s)\n", conn.Dialector.Name())
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		version, dirty, err := migration.Version(sqlDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}
