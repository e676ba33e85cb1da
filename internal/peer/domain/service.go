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
	// Upsert creates a PENDING peer or returns the existing one for the same
	// country code and party id.
	Upsert(ctx context.Context, req UpsertRequest) (*Summary, error)
	// RecordTokens stores both tokens of a completed credentials exchange in one write.
	RecordTokens(ctx context.Context, id snowflake.ID, ourTokenForPeer, peerTokenForUs string) error
	Transition(ctx context.Context, id snowflake.ID, target Status) error
	SetChosenVersion(ctx context.Context, id snowflake.ID, version ocpi.Version) error
	Get(ctx context.Context, id snowflake.ID) (*Record, error)
	List(ctx context.Context, req ListRequest) ([]Summary, error)
	// FindByToken resolves an inbound token to a non-revoked peer.
	FindByToken(ctx context.Context, rawToken string) (*Record, error)
	Delete(ctx context.Context, id snowflake.ID) error
	// RecordAttempt stores the outcome of a registration attempt. An empty kind
	// clears the retry bookkeeping.
	RecordAttempt(ctx context.Context, id snowflake.ID, kind string, nextAttemptAt *time.Time) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]Summary, error)
	WithTx(tx *gorm.DB) Service
}

type UpsertRequest struct {
	CountryCode     string      `json:"country_code"`
	PartyID         string      `json:"party_id"`
	BusinessName    string      `json:"business_name"`
	Roles           []ocpi.Role `json:"roles"`
	BaseVersionsURL string      `json:"base_versions_url"`
	BootstrapToken  string      `json:"bootstrap_token"`
	AllowUpdate     bool        `json:"allow_update"`
}

type ListRequest struct {
	Status      Status
	CountryCode string
	PartyID     string
}

// Summary is the token-free view of a peer.
type Summary struct {
	ID              string       `json:"id"`
	CountryCode     string       `json:"country_code"`
	PartyID         string       `json:"party_id"`
	BusinessName    string       `json:"business_name,omitempty"`
	Roles           []ocpi.Role  `json:"roles"`
	BaseVersionsURL string       `json:"base_versions_url"`
	ChosenVersion   ocpi.Version `json:"chosen_version,omitempty"`
	Status          Status       `json:"status"`
	Attempts        int          `json:"attempts"`
	LastErrorKind   string       `json:"last_error_kind,omitempty"`
	NextAttemptAt   *time.Time   `json:"next_attempt_at,omitempty"`
	LastUpdated     time.Time    `json:"last_updated"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Record carries decrypted tokens and must never be serialized to clients.
type Record struct {
	Summary
	PeerID          snowflake.ID `json:"-"`
	OurTokenForPeer string       `json:"-"`
	PeerTokenForUs  string       `json:"-"`
	BootstrapToken  string       `json:"-"`
}

// CurrentToken is the token we present when calling the peer.
func (r *Record) CurrentToken() string {
	if r.OurTokenForPeer != "" {
		return r.OurTokenForPeer
	}
	return r.BootstrapToken
}

var (
	ErrInvalidCountryCode = errors.New("invalid_country_code")
	ErrInvalidPartyID     = errors.New("invalid_party_id")
	ErrInvalidRoles       = errors.New("invalid_roles")
	ErrInvalidVersionsURL = errors.New("invalid_versions_url")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidVersion     = errors.New("invalid_version")
	ErrNotFound           = errors.New("peer_not_found")
	ErrConflict           = errors.New("peer_conflict")
	ErrPeerRevoked        = errors.New("peer_revoked")
	ErrInvalidTransition  = errors.New("invalid_transition")
)
