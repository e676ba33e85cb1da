package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	DeleteByPeer(ctx context.Context, db *gorm.DB, peerID snowflake.ID) error
	InsertVersionDetail(ctx context.Context, db *gorm.DB, detail *VersionDetail) error
	InsertModuleEndpoint(ctx context.Context, db *gorm.DB, endpoint *ModuleEndpoint) error
	InsertPeerEndpoint(ctx context.Context, db *gorm.DB, endpoint *PeerEndpoint) error
	FindVersionDetail(ctx context.Context, db *gorm.DB, peerID snowflake.ID) (*VersionDetail, error)
	ListModuleEndpoints(ctx context.Context, db *gorm.DB, versionDetailID snowflake.ID) ([]ModuleEndpoint, error)
	ListPeerEndpoints(ctx context.Context, db *gorm.DB, peerID snowflake.ID) ([]PeerEndpoint, error)
	FindPeerEndpoint(ctx context.Context, db *gorm.DB, peerID snowflake.ID, module, role string) (*PeerEndpoint, error)
	FindModuleEndpoint(ctx context.Context, db *gorm.DB, peerID snowflake.ID, module string) (*ModuleEndpoint, error)
}
