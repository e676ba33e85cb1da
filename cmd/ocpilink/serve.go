package main

import (
	"github.com/smallbiznis/ocpilink/internal/migration"
	"github.com/smallbiznis/ocpilink/internal/registration"
	"github.com/smallbiznis/ocpilink/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OCPI endpoints, admin API and registration worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			coreModules(),
			migration.Module,
			registration.WorkerModule,
			server.Module,
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}
