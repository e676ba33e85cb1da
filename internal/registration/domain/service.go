package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
)

// Service drives a peer through the trust lifecycle. Every operation holds
// the peer's lease for its whole duration.
type Service interface {
	// Register exchanges credentials if a bootstrap token is pending, then
	// negotiates and commits version, catalog and REGISTERED in one transaction.
	Register(ctx context.Context, peerID snowflake.ID) (*Outcome, error)
	// Renegotiate refreshes version and catalog of a REGISTERED peer. A failed
	// attempt drops the peer to PENDING and leaves its catalog untouched.
	Renegotiate(ctx context.Context, peerID snowflake.ID) (*Outcome, error)
	// Rotate replaces the token pair of a REGISTERED peer.
	Rotate(ctx context.Context, peerID snowflake.ID) (*Outcome, error)
	// Revoke notifies the peer when possible and marks it REVOKED.
	Revoke(ctx context.Context, peerID snowflake.ID) (*Outcome, error)
}

type Outcome struct {
	Peer      peerdomain.Summary `json:"peer"`
	Version   ocpi.Version       `json:"version,omitempty"`
	Endpoints []ocpi.Endpoint    `json:"endpoints,omitempty"`
}

var (
	ErrBusy              = errors.New("peer_busy")
	ErrAlreadyRegistered = errors.New("peer_already_registered")
	ErrNotRegistered     = errors.New("peer_not_registered")
	ErrNoToken           = errors.New("peer_token_missing")
)
