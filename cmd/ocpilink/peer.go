package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/audit/auditcontext"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type services struct {
	fx.In

	Peers        peerdomain.Service
	Catalog      catalogdomain.Service
	Registration registrationdomain.Service
	Audit        auditdomain.Service
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage OCPI peers",
}

var (
	addCountryCode  string
	addPartyID      string
	addBusinessName string
	addRoles        []string
	addVersionsURL  string
	addBootstrap    string
	addAllowUpdate  bool
	listStatus      string
	auditLimit      int
)

var peerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a PENDING peer or update an existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := make([]ocpi.Role, 0, len(addRoles))
		for _, raw := range addRoles {
			role, ok := ocpi.ParseRole(raw)
			if !ok {
				return peerdomain.ErrInvalidRoles
			}
			roles = append(roles, role)
		}

		return withServices(cmd, func(ctx context.Context, svc services) error {
			summary, err := svc.Peers.Upsert(ctx, peerdomain.UpsertRequest{
				CountryCode:     addCountryCode,
				PartyID:         addPartyID,
				BusinessName:    addBusinessName,
				Roles:           roles,
				BaseVersionsURL: addVersionsURL,
				BootstrapToken:  addBootstrap,
				AllowUpdate:     addAllowUpdate,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc services) error {
			items, err := svc.Peers.List(ctx, peerdomain.ListRequest{
				Status: peerdomain.Status(strings.ToUpper(strings.TrimSpace(listStatus))),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		})
	},
}

var peerEndpointsCmd = &cobra.Command{
	Use:   "endpoints <peer-id>",
	Short: "Show the negotiated endpoint catalog of a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := snowflake.ParseString(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd, func(ctx context.Context, svc services) error {
			manifest, err := svc.Catalog.Get(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), manifest)
		})
	},
}

var peerDeleteCmd = &cobra.Command{
	Use:   "delete <peer-id>",
	Short: "Delete a peer and its catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := snowflake.ParseString(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd, func(ctx context.Context, svc services) error {
			return svc.Peers.Delete(ctx, id)
		})
	},
}

var peerAuditCmd = &cobra.Command{
	Use:   "audit <peer-id>",
	Short: "Show the audit trail of a peer, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := snowflake.ParseString(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd, func(ctx context.Context, svc services) error {
			logs, err := svc.Audit.List(ctx, auditdomain.ListAuditLogRequest{
				TargetType: auditdomain.TargetTypePeer,
				TargetID:   id.String(),
				Limit:      auditLimit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), logs)
		})
	},
}

func lifecycleCmd(use, short string, pick func(registrationdomain.Service) func(context.Context, snowflake.ID) (*registrationdomain.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <peer-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svc services) error {
				outcome, err := pick(svc.Registration)(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), outcome)
			})
		},
	}
}

func init() {
	peerAddCmd.Flags().StringVar(&addCountryCode, "country-code", "", "ISO 3166-1 alpha-2 country code")
	peerAddCmd.Flags().StringVar(&addPartyID, "party-id", "", "three character party id")
	peerAddCmd.Flags().StringVar(&addBusinessName, "name", "", "business name")
	peerAddCmd.Flags().StringSliceVar(&addRoles, "roles", nil, "roles the peer plays (CPO, EMSP, HUB)")
	peerAddCmd.Flags().StringVar(&addVersionsURL, "versions-url", "", "the peer's versions endpoint")
	peerAddCmd.Flags().StringVar(&addBootstrap, "bootstrap-token", "", "token handed over out of band")
	peerAddCmd.Flags().BoolVar(&addAllowUpdate, "update", false, "update an existing PENDING peer")
	_ = peerAddCmd.MarkFlagRequired("country-code")
	_ = peerAddCmd.MarkFlagRequired("party-id")
	_ = peerAddCmd.MarkFlagRequired("versions-url")

	peerListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")

	peerAuditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to show")

	peerCmd.AddCommand(peerAddCmd, peerListCmd, peerEndpointsCmd, peerDeleteCmd, peerAuditCmd)
	peerCmd.AddCommand(
		lifecycleCmd("register", "Exchange credentials and negotiate with a PENDING peer",
			func(s registrationdomain.Service) func(context.Context, snowflake.ID) (*registrationdomain.Outcome, error) {
				return s.Register
			}),
		lifecycleCmd("renegotiate", "Refresh version and endpoints of a REGISTERED peer",
			func(s registrationdomain.Service) func(context.Context, snowflake.ID) (*registrationdomain.Outcome, error) {
				return s.Renegotiate
			}),
		lifecycleCmd("rotate", "Replace the token pair of a REGISTERED peer",
			func(s registrationdomain.Service) func(context.Context, snowflake.ID) (*registrationdomain.Outcome, error) {
				return s.Rotate
			}),
		lifecycleCmd("revoke", "Unregister from a peer and mark it REVOKED",
			func(s registrationdomain.Service) func(context.Context, snowflake.ID) (*registrationdomain.Outcome, error) {
				return s.Revoke
			}),
	)
}

// withServices starts the core graph without the HTTP server or worker.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc services) error) error {
	var svc services
	app := fx.New(
		fx.NopLogger,
		coreModules(),
		fx.Invoke(func(p services) { svc = p }),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer app.Stop(context.Background())

	ctx := auditcontext.WithActor(cmd.Context(), string(auditdomain.ActorTypeAdmin), "cli")
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
