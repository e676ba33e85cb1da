package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"gorm.io/gorm"
)

type Service interface {
	// Replace swaps the peer's manifest for endpoints in one transaction.
	Replace(ctx context.Context, peerID snowflake.ID, version ocpi.Version, endpoints []ocpi.Endpoint) (*Manifest, error)
	Lookup(ctx context.Context, peerID snowflake.ID, module ocpi.ModuleID, role ocpi.EndpointRole) (string, error)
	LookupModule(ctx context.Context, peerID snowflake.ID, module ocpi.ModuleID) (string, error)
	Get(ctx context.Context, peerID snowflake.ID) (*Manifest, error)
	WithTx(tx *gorm.DB) Service
}

type Manifest struct {
	PeerID        string          `json:"peer_id"`
	Version       ocpi.Version    `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	Endpoints     []ocpi.Endpoint `json:"endpoints"`
	RoleEndpoints []RoleEndpoint  `json:"role_endpoints"`
}

type RoleEndpoint struct {
	Module ocpi.ModuleID     `json:"module"`
	Role   ocpi.EndpointRole `json:"role"`
	URL    string            `json:"url"`
}

var (
	ErrEmptyManifest       = errors.New("empty_manifest")
	ErrInvalidVersion      = errors.New("invalid_version")
	ErrInvalidIdentifier   = errors.New("invalid_identifier")
	ErrInvalidEndpointURL  = errors.New("invalid_endpoint_url")
	ErrInvalidEndpointRole = errors.New("invalid_endpoint_role")
	ErrDuplicateIdentifier = errors.New("duplicate_identifier")
	ErrNoEndpointRoles     = errors.New("no_endpoint_roles")
	ErrEndpointNotFound    = errors.New("endpoint_not_found")
	ErrCatalogNotFound     = errors.New("catalog_not_found")
)
