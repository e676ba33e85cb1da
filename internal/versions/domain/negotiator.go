package domain

import (
	"context"
	"errors"
	"slices"

	"github.com/smallbiznis/ocpilink/internal/ocpi"
)

// Service negotiates the protocol version and endpoint manifest with a peer.
// It has no side effects besides the two outbound calls and never retries.
type Service interface {
	Negotiate(ctx context.Context, target Target) (Result, error)
}

// Target is where and how to reach a peer's versions endpoint.
type Target struct {
	VersionsURL string
	Token       string
}

// Result is the negotiated version and its manifest.
type Result struct {
	Version   ocpi.Version
	DetailURL string
	Endpoints []ocpi.Endpoint
}

// Endpoint returns the first manifest entry for module.
func (r Result) Endpoint(module ocpi.ModuleID) (ocpi.Endpoint, bool) {
	i := slices.IndexFunc(r.Endpoints, func(ep ocpi.Endpoint) bool { return ep.Identifier == module })
	if i < 0 {
		return ocpi.Endpoint{}, false
	}
	return r.Endpoints[i], true
}

// PriorityProvider yields the accepted versions, most preferred first.
type PriorityProvider interface {
	Priority() []ocpi.Version
}

var ErrInvalidTarget = errors.New("invalid_negotiation_target")
