package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeAdmin  ActorType = "admin"
	ActorTypePeer   ActorType = "peer"
)

const TargetTypePeer = "peer"

// Actions recorded against a peer.
const (
	ActionPeerCreated        = "peer.created"
	ActionPeerUpdated        = "peer.updated"
	ActionPeerDeleted        = "peer.deleted"
	ActionPeerTransitioned   = "peer.transitioned"
	ActionPeerTokensRecorded = "peer.tokens_recorded"
	ActionPeerRotated        = "peer.rotated"
	ActionPeerRevoked        = "peer.revoked"
	ActionCredentialsDeleted = "credentials.deleted"
)

// AuditLog is one append-only record. Rows outlive the peer they describe.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"column:actor_type;type:varchar(16);not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:varchar(64)" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;type:varchar(64);not null;index:ix_audit_logs_action" json:"action"`
	TargetType string            `gorm:"column:target_type;type:varchar(32);not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:varchar(64);index:ix_audit_logs_target" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index:ix_audit_logs_created_at" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
}
