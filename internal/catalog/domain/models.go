package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// VersionDetail is the version negotiated with a peer. A peer has at most one.
type VersionDetail struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	PeerID    snowflake.ID `gorm:"column:peer_id;not null;index:ix_version_details_peer_id"`
	Version   string       `gorm:"column:version;type:varchar(16);not null"`
	CreatedAt time.Time    `gorm:"column:created_at;not null"`
}

func (VersionDetail) TableName() string { return "version_details" }

// ModuleEndpoint is one module URL published in a version manifest.
type ModuleEndpoint struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	VersionDetailID snowflake.ID `gorm:"column:version_detail_id;not null;uniqueIndex:ux_module_endpoints_detail_identifier,priority:1"`
	Identifier      string       `gorm:"column:identifier;type:varchar(32);not null;uniqueIndex:ux_module_endpoints_detail_identifier,priority:2"`
	URL             string       `gorm:"column:url;type:text;not null"`
}

func (ModuleEndpoint) TableName() string { return "module_endpoints" }

// PeerEndpoint is a module URL qualified by the role the peer serves it under.
type PeerEndpoint struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	PeerID snowflake.ID `gorm:"column:peer_id;not null;uniqueIndex:ux_peer_endpoints_peer_module_role,priority:1"`
	Module string       `gorm:"column:module;type:varchar(32);not null;uniqueIndex:ux_peer_endpoints_peer_module_role,priority:2"`
	Role   string       `gorm:"column:role;type:varchar(8);not null;uniqueIndex:ux_peer_endpoints_peer_module_role,priority:3"`
	URL    string       `gorm:"column:url;type:text;not null"`
}

func (PeerEndpoint) TableName() string { return "peer_endpoints" }
