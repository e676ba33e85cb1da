package service

import (
	"context"
	"net/url"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  catalogdomain.Repository
	Peers peerdomain.Service
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  catalogdomain.Repository
	peers peerdomain.Service
	clock clock.Clock
}

func New(p Params) catalogdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		peers: p.Peers,
		clock: clk,
	}
}

func (s *Service) WithTx(tx *gorm.DB) catalogdomain.Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	clone.peers = s.peers.WithTx(tx)
	return &clone
}

func (s *Service) Replace(ctx context.Context, peerID snowflake.ID, version ocpi.Version, endpoints []ocpi.Endpoint) (*catalogdomain.Manifest, error) {
	if err := validateManifest(version, endpoints); err != nil {
		return nil, err
	}

	var manifest *catalogdomain.Manifest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		peer, err := s.peers.WithTx(tx).Get(ctx, peerID)
		if err != nil {
			return err
		}
		if peer.Status == peerdomain.StatusRevoked {
			return peerdomain.ErrPeerRevoked
		}

		defaultRoles := ocpi.EndpointRolesFor(peer.Roles)
		if len(defaultRoles) == 0 && hasUnqualified(endpoints) {
			return catalogdomain.ErrNoEndpointRoles
		}

		if err := s.repo.DeleteByPeer(ctx, tx, peerID); err != nil {
			return err
		}

		detail := &catalogdomain.VersionDetail{
			ID:        s.genID.Generate(),
			PeerID:    peerID,
			Version:   string(version),
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertVersionDetail(ctx, tx, detail); err != nil {
			return err
		}

		manifest = &catalogdomain.Manifest{
			PeerID:    peerID.String(),
			Version:   version,
			CreatedAt: detail.CreatedAt,
		}
		for _, ep := range endpoints {
			if err := s.repo.InsertModuleEndpoint(ctx, tx, &catalogdomain.ModuleEndpoint{
				ID:              s.genID.Generate(),
				VersionDetailID: detail.ID,
				Identifier:      string(ep.Identifier),
				URL:             ep.URL,
			}); err != nil {
				return err
			}
			manifest.Endpoints = append(manifest.Endpoints, ep)

			roles := defaultRoles
			if ep.Role != "" {
				roles = []ocpi.EndpointRole{ep.Role}
			}
			for _, role := range roles {
				if err := s.repo.InsertPeerEndpoint(ctx, tx, &catalogdomain.PeerEndpoint{
					ID:     s.genID.Generate(),
					PeerID: peerID,
					Module: string(ep.Identifier),
					Role:   string(role),
					URL:    ep.URL,
				}); err != nil {
					return err
				}
				manifest.RoleEndpoints = append(manifest.RoleEndpoints, catalogdomain.RoleEndpoint{
					Module: ep.Identifier,
					Role:   role,
					URL:    ep.URL,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("catalog replaced",
		zap.String("peer_id", peerID.String()),
		zap.String("version", string(version)),
		zap.Int("endpoints", len(manifest.Endpoints)),
	)
	return manifest, nil
}

func (s *Service) Lookup(ctx context.Context, peerID snowflake.ID, module ocpi.ModuleID, role ocpi.EndpointRole) (string, error) {
	endpoint, err := s.repo.FindPeerEndpoint(ctx, s.db, peerID, string(module), string(role))
	if err != nil {
		return "", err
	}
	if endpoint == nil {
		return "", catalogdomain.ErrEndpointNotFound
	}
	return endpoint.URL, nil
}

func (s *Service) LookupModule(ctx context.Context, peerID snowflake.ID, module ocpi.ModuleID) (string, error) {
	endpoint, err := s.repo.FindModuleEndpoint(ctx, s.db, peerID, string(module))
	if err != nil {
		return "", err
	}
	if endpoint == nil {
		return "", catalogdomain.ErrEndpointNotFound
	}
	return endpoint.URL, nil
}

func (s *Service) Get(ctx context.Context, peerID snowflake.ID) (*catalogdomain.Manifest, error) {
	detail, err := s.repo.FindVersionDetail(ctx, s.db, peerID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, catalogdomain.ErrCatalogNotFound
	}

	moduleEndpoints, err := s.repo.ListModuleEndpoints(ctx, s.db, detail.ID)
	if err != nil {
		return nil, err
	}
	peerEndpoints, err := s.repo.ListPeerEndpoints(ctx, s.db, peerID)
	if err != nil {
		return nil, err
	}

	manifest := &catalogdomain.Manifest{
		PeerID:        peerID.String(),
		Version:       ocpi.Version(detail.Version),
		CreatedAt:     detail.CreatedAt.UTC(),
		Endpoints:     make([]ocpi.Endpoint, 0, len(moduleEndpoints)),
		RoleEndpoints: make([]catalogdomain.RoleEndpoint, 0, len(peerEndpoints)),
	}
	for _, ep := range moduleEndpoints {
		manifest.Endpoints = append(manifest.Endpoints, ocpi.Endpoint{
			Identifier: ocpi.ModuleID(ep.Identifier),
			URL:        ep.URL,
		})
	}
	for _, ep := range peerEndpoints {
		manifest.RoleEndpoints = append(manifest.RoleEndpoints, catalogdomain.RoleEndpoint{
			Module: ocpi.ModuleID(ep.Module),
			Role:   ocpi.EndpointRole(ep.Role),
			URL:    ep.URL,
		})
	}
	return manifest, nil
}

func validateManifest(version ocpi.Version, endpoints []ocpi.Endpoint) error {
	if !version.Valid() {
		return catalogdomain.ErrInvalidVersion
	}
	if len(endpoints) == 0 {
		return catalogdomain.ErrEmptyManifest
	}

	seen := make(map[ocpi.ModuleID]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if !ep.Identifier.Valid() {
			return catalogdomain.ErrInvalidIdentifier
		}
		if !isAbsoluteURL(ep.URL) {
			return catalogdomain.ErrInvalidEndpointURL
		}
		if ep.Role != "" && ep.Role != ocpi.EndpointRoleCPO && ep.Role != ocpi.EndpointRoleEMSP {
			return catalogdomain.ErrInvalidEndpointRole
		}
		if _, dup := seen[ep.Identifier]; dup {
			return catalogdomain.ErrDuplicateIdentifier
		}
		seen[ep.Identifier] = struct{}{}
	}
	return nil
}

func hasUnqualified(endpoints []ocpi.Endpoint) bool {
	for _, ep := range endpoints {
		if ep.Role == "" {
			return true
		}
	}
	return false
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
