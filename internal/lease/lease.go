package lease

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidKey = errors.New("lease_key_empty")
	ErrInvalidTTL = errors.New("lease_ttl_invalid")
)

// Locker hands out exclusive, expiring leases on a key. The returned token
// must be presented to Release; a stale token never frees someone else's lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// PeerKey is the lease key guarding negotiation for one peer.
func PeerKey(peerID string) string {
	return "ocpilink:peer:lease:" + strings.TrimSpace(peerID)
}

func validate(key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
