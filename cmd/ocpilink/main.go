package main

import (
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/audit"
	"github.com/smallbiznis/ocpilink/internal/catalog"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	"github.com/smallbiznis/ocpilink/internal/credentials"
	"github.com/smallbiznis/ocpilink/internal/lease"
	"github.com/smallbiznis/ocpilink/internal/observability"
	"github.com/smallbiznis/ocpilink/internal/ocpi/transport"
	"github.com/smallbiznis/ocpilink/internal/peer"
	"github.com/smallbiznis/ocpilink/internal/registration"
	"github.com/smallbiznis/ocpilink/internal/secret"
	"github.com/smallbiznis/ocpilink/internal/versions"
	"github.com/smallbiznis/ocpilink/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var rootCmd = &cobra.Command{
	Use:               "ocpilink",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Short:             "OCPI peer trust and version negotiation service",
	SilenceUsage:      true,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(peerCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// coreModules wires everything but the HTTP server and the retry worker.
func coreModules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		secret.Module,
		transport.Module,
		lease.Module,

		// Functional Domains
		audit.Module,
		peer.Module,
		catalog.Module,
		versions.Module,
		credentials.Module,
		registration.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
