package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
)

// Service runs the OCPI credentials handshake. Token pairs are persisted
// together or not at all.
type Service interface {
	// Initiate hands a fresh token to a PENDING peer, authenticated with the
	// token the peer gave us out of band.
	Initiate(ctx context.Context, req InitiateRequest) (*Exchange, error)
	// Update rotates the token pair of a REGISTERED peer.
	Update(ctx context.Context, peerID snowflake.ID) (*Exchange, error)
	// Delete tells the peer we no longer use the connection.
	Delete(ctx context.Context, peerID snowflake.ID) error
	// Describe builds our credentials object around token.
	Describe(token string) ocpi.Credentials
}

type InitiateRequest struct {
	PeerID         snowflake.ID
	CredentialsURL string
	PresentedToken string
}

// Exchange is the token-free outcome of a handshake.
type Exchange struct {
	PeerID      string                 `json:"peer_id"`
	VersionsURL string                 `json:"versions_url"`
	Roles       []ocpi.CredentialsRole `json:"roles"`
}

var (
	ErrInvalidRequest   = errors.New("invalid_credentials_request")
	ErrNotRegistered    = errors.New("peer_not_registered")
	ErrNoCredentialsURL = errors.New("credentials_endpoint_missing")
)
