package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a peer relationship.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRegistered Status = "REGISTERED"
	StatusRevoked    Status = "REVOKED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRegistered, StatusRevoked:
		return true
	default:
		return false
	}
}

// Peer is the persisted relationship with one remote party. Token columns hold
// ciphertext produced by secret.Cipher.
type Peer struct {
	ID                 snowflake.ID                   `gorm:"primaryKey"`
	CountryCode        string                         `gorm:"column:country_code;type:varchar(2);not null;uniqueIndex:ux_peers_country_party,priority:1"`
	PartyID            string                         `gorm:"column:party_id;type:varchar(3);not null;uniqueIndex:ux_peers_country_party,priority:2"`
	BusinessName       string                         `gorm:"column:business_name;type:text;not null;default:''"`
	Roles              datatypes.JSONSlice[ocpi.Role] `gorm:"column:roles;not null"`
	BaseVersionsURL    string                         `gorm:"column:base_versions_url;type:text;not null"`
	OurTokenForPeerEnc string                         `gorm:"column:our_token_for_peer;type:text;not null;default:''"`
	PeerTokenForUsEnc  string                         `gorm:"column:peer_token_for_us;type:text;not null;default:''"`
	PeerTokenHash      string                         `gorm:"column:peer_token_hash;type:varchar(64);not null;default:'';index:ix_peers_peer_token_hash"`
	BootstrapTokenEnc  string                         `gorm:"column:bootstrap_token;type:text;not null;default:''"`
	ChosenVersion      string                         `gorm:"column:chosen_version;type:varchar(16);not null;default:''"`
	Status             Status                         `gorm:"column:status;type:varchar(16);not null"`
	Attempts           int                            `gorm:"column:attempts;not null;default:0"`
	LastErrorKind      string                         `gorm:"column:last_error_kind;type:varchar(64);not null;default:''"`
	NextAttemptAt      *time.Time                     `gorm:"column:next_attempt_at"`
	LastUpdated        time.Time                      `gorm:"column:last_updated;not null"`
	CreatedAt          time.Time                      `gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (Peer) TableName() string { return "peers" }
