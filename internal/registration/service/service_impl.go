package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/config"
	credentialsdomain "github.com/smallbiznis/ocpilink/internal/credentials/domain"
	"github.com/smallbiznis/ocpilink/internal/lease"
	"github.com/smallbiznis/ocpilink/internal/observability/logger"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	registrationdomain "github.com/smallbiznis/ocpilink/internal/registration/domain"
	versionsdomain "github.com/smallbiznis/ocpilink/internal/versions/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opRegister = "register"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Clock       clock.Clock
	Locker      lease.Locker
	Peers       peerdomain.Service
	Catalog     catalogdomain.Service
	Credentials credentialsdomain.Service
	Negotiator  versionsdomain.Service
	Audit       auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	locker      lease.Locker
	leaseTTL    time.Duration
	retry       config.WorkerConfig
	jitter      func(int64) int64
	peers       peerdomain.Service
	catalog     catalogdomain.Service
	credentials credentialsdomain.Service
	negotiator  versionsdomain.Service
	audit       auditdomain.Service
}

func New(p Params) registrationdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	retry := p.Cfg.RegistrationWorker
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 30 * time.Second
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = time.Hour
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 8
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("registration.service"),
		clock:       clk,
		locker:      p.Locker,
		leaseTTL:    ttl,
		retry:       retry,
		jitter:      defaultJitter,
		peers:       p.Peers,
		catalog:     p.Catalog,
		credentials: p.Credentials,
		negotiator:  p.Negotiator,
		audit:       p.Audit,
	}
}

func (s *Service) Register(ctx context.Context, peerID snowflake.ID) (*registrationdomain.Outcome, error) {
	var outcome *registrationdomain.Outcome
	err := s.withLease(ctx, peerID, func(ctx context.Context) error {
		peer, err := s.peers.Get(ctx, peerID)
		if err != nil {
			return err
		}
		switch peer.Status {
		case peerdomain.StatusRevoked:
			return peerdomain.ErrPeerRevoked
		case peerdomain.StatusRegistered:
			return registrationdomain.ErrAlreadyRegistered
		}

		result, err := s.handshake(ctx, peer)
		if err != nil {
			return s.recordFailure(ctx, peer, err)
		}
		if err := s.commit(ctx, peerID, result); err != nil {
			return s.recordFailure(ctx, peer, err)
		}

		outcome, err = s.outcome(ctx, peerID, result)
		return err
	})
	return outcome, err
}

func (s *Service) Renegotiate(ctx context.Context, peerID snowflake.ID) (*registrationdomain.Outcome, error) {
	var outcome *registrationdomain.Outcome
	err := s.withLease(ctx, peerID, func(ctx context.Context) error {
		peer, err := s.peers.Get(ctx, peerID)
		if err != nil {
			return err
		}
		switch peer.Status {
		case peerdomain.StatusRevoked:
			return peerdomain.ErrPeerRevoked
		case peerdomain.StatusPending:
			return registrationdomain.ErrNotRegistered
		}

		result, err := s.negotiator.Negotiate(ctx, versionsdomain.Target{
			VersionsURL: peer.BaseVersionsURL,
			Token:       peer.CurrentToken(),
		})
		if err == nil {
			err = s.commit(ctx, peerID, result)
		}
		if err != nil {
			if terr := s.peers.Transition(ctx, peerID, peerdomain.StatusPending); terr != nil {
				s.log.Error("failed to drop peer to pending", zap.String("peer_id", peerID.String()), zap.Error(terr))
			}
			return s.recordFailure(ctx, peer, err)
		}

		outcome, err = s.outcome(ctx, peerID, result)
		return err
	})
	return outcome, err
}

func (s *Service) Rotate(ctx context.Context, peerID snowflake.ID) (*registrationdomain.Outcome, error) {
	var outcome *registrationdomain.Outcome
	err := s.withLease(ctx, peerID, func(ctx context.Context) error {
		if _, err := s.credentials.Update(ctx, peerID); err != nil {
			if errors.Is(err, credentialsdomain.ErrNotRegistered) {
				return registrationdomain.ErrNotRegistered
			}
			return err
		}
		var err error
		outcome, err = s.outcome(ctx, peerID, versionsdomain.Result{})
		return err
	})
	if err == nil {
		s.emitAudit(ctx, auditdomain.ActionPeerRotated, peerID, nil)
	}
	return outcome, err
}

func (s *Service) Revoke(ctx context.Context, peerID snowflake.ID) (*registrationdomain.Outcome, error) {
	var (
		outcome  *registrationdomain.Outcome
		notified bool
	)
	err := s.withLease(ctx, peerID, func(ctx context.Context) error {
		peer, err := s.peers.Get(ctx, peerID)
		if err != nil {
			return err
		}
		if peer.Status == peerdomain.StatusRegistered {
			// The peer may already have dropped us; revocation proceeds either way.
			if err := s.credentials.Delete(ctx, peerID); err != nil {
				logger.WithContext(ctx, s.log).Warn("peer not notified of revocation",
					zap.String("peer_id", peerID.String()),
					zap.String("kind", ocpi.KindName(err)),
				)
			} else {
				notified = true
			}
		}
		if err := s.peers.Transition(ctx, peerID, peerdomain.StatusRevoked); err != nil {
			return err
		}
		outcome, err = s.outcome(ctx, peerID, versionsdomain.Result{})
		return err
	})
	if err == nil {
		s.emitAudit(ctx, auditdomain.ActionPeerRevoked, peerID, map[string]any{
			"peer_notified": notified,
		})
	}
	return outcome, err
}

func (s *Service) emitAudit(ctx context.Context, action string, peerID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	targetID := peerID.String()
	_ = s.audit.AuditLog(ctx, "", nil, action, auditdomain.TargetTypePeer, &targetID, metadata)
}

// handshake negotiates with the pending bootstrap token, hands the peer a
// fresh token through its credentials endpoint and negotiates again with it.
// A peer whose tokens were already exchanged is negotiated once.
func (s *Service) handshake(ctx context.Context, peer *peerdomain.Record) (versionsdomain.Result, error) {
	presented := peer.BootstrapToken
	if presented == "" {
		presented = peer.OurTokenForPeer
	}
	if presented == "" {
		return versionsdomain.Result{}, registrationdomain.ErrNoToken
	}

	target := versionsdomain.Target{VersionsURL: peer.BaseVersionsURL, Token: presented}
	discovered, err := s.negotiator.Negotiate(ctx, target)
	if err != nil {
		return versionsdomain.Result{}, err
	}
	if peer.BootstrapToken == "" {
		return discovered, nil
	}

	endpoint, ok := discovered.Endpoint(ocpi.ModuleCredentials)
	if !ok {
		return versionsdomain.Result{}, &ocpi.Error{Op: opRegister, Kind: ocpi.ErrNoMatchingEndpoints, Err: errors.New("peer publishes no credentials endpoint")}
	}
	if _, err := s.credentials.Initiate(ctx, credentialsdomain.InitiateRequest{
		PeerID:         peer.PeerID,
		CredentialsURL: endpoint.URL,
		PresentedToken: presented,
	}); err != nil {
		return versionsdomain.Result{}, err
	}

	updated, err := s.peers.Get(ctx, peer.PeerID)
	if err != nil {
		return versionsdomain.Result{}, err
	}
	target.Token = updated.CurrentToken()
	return s.negotiator.Negotiate(ctx, target)
}

// commit writes catalog, chosen version and status in one transaction.
func (s *Service) commit(ctx context.Context, peerID snowflake.ID, result versionsdomain.Result) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.catalog.WithTx(tx).Replace(ctx, peerID, result.Version, result.Endpoints); err != nil {
			return err
		}
		peers := s.peers.WithTx(tx)
		if err := peers.SetChosenVersion(ctx, peerID, result.Version); err != nil {
			return err
		}
		if err := peers.Transition(ctx, peerID, peerdomain.StatusRegistered); err != nil {
			return err
		}
		return peers.RecordAttempt(ctx, peerID, "", nil)
	})
	if err != nil && manifestRejected(err) {
		return &ocpi.Error{Op: opRegister, Kind: ocpi.ErrNoMatchingEndpoints, Err: err}
	}
	return err
}

// recordFailure stores the failure kind of a remote exchange and schedules a
// retry for retryable kinds. Local errors are returned untouched.
func (s *Service) recordFailure(ctx context.Context, peer *peerdomain.Record, cause error) error {
	kind := ocpi.KindOf(cause)
	if kind == nil {
		return cause
	}

	attempt := peer.Attempts + 1
	var next *time.Time
	if ocpi.IsRetryable(cause) && attempt < s.retry.MaxAttempts {
		at := s.clock.Now().Add(backoff(attempt, s.retry.InitialBackoff, s.retry.MaxBackoff, s.jitter))
		next = &at
	}

	if err := s.peers.RecordAttempt(ctx, peer.PeerID, kind.Error(), next); err != nil {
		s.log.Error("failed to record registration attempt", zap.String("peer_id", peer.PeerID.String()), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("peer_id", peer.PeerID.String()),
		zap.String("kind", kind.Error()),
		zap.Int("attempt", attempt),
		zap.Bool("retryable", next != nil),
	}
	if next != nil {
		fields = append(fields, zap.Time("next_attempt_at", *next))
	}
	logger.WithContext(ctx, s.log).Warn("peer registration failed", fields...)
	return cause
}

func (s *Service) outcome(ctx context.Context, peerID snowflake.ID, result versionsdomain.Result) (*registrationdomain.Outcome, error) {
	peer, err := s.peers.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	return &registrationdomain.Outcome{
		Peer:      peer.Summary,
		Version:   result.Version,
		Endpoints: result.Endpoints,
	}, nil
}

func (s *Service) withLease(ctx context.Context, peerID snowflake.ID, fn func(ctx context.Context) error) error {
	key := lease.PeerKey(peerID.String())
	token, ok, err := s.locker.TryLock(ctx, key, s.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire peer lease: %w", err)
	}
	if !ok {
		return registrationdomain.ErrBusy
	}
	defer func() {
		// release even when ctx is already cancelled
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("failed to release peer lease", zap.String("peer_id", peerID.String()), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func manifestRejected(err error) bool {
	for _, target := range []error{
		catalogdomain.ErrEmptyManifest,
		catalogdomain.ErrInvalidVersion,
		catalogdomain.ErrInvalidIdentifier,
		catalogdomain.ErrInvalidEndpointURL,
		catalogdomain.ErrInvalidEndpointRole,
		catalogdomain.ErrDuplicateIdentifier,
		catalogdomain.ErrNoEndpointRoles,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
