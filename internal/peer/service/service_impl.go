package service

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/observability/metrics"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	"github.com/smallbiznis/ocpilink/internal/secret"
	"github.com/smallbiznis/ocpilink/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    peerdomain.Repository
	Cipher  *secret.Cipher
	Clock   clock.Clock
	Metrics *metrics.PeeringMetrics `optional:"true"`
	Audit   auditdomain.Service     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    peerdomain.Repository
	cipher  *secret.Cipher
	clock   clock.Clock
	metrics *metrics.PeeringMetrics
	audit   auditdomain.Service
}

func New(p Params) peerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("peer.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		cipher:  p.Cipher,
		clock:   clk,
		metrics: p.Metrics,
		audit:   p.Audit,
	}
}

func (s *Service) WithTx(tx *gorm.DB) peerdomain.Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Service) Upsert(ctx context.Context, req peerdomain.UpsertRequest) (*peerdomain.Summary, error) {
	normalized, err := normalizeUpsert(req)
	if err != nil {
		return nil, err
	}

	bootstrapEnc, err := s.cipher.Encrypt(normalized.BootstrapToken)
	if err != nil {
		return nil, err
	}

	var (
		out     *peerdomain.Peer
		created bool
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByKey(ctx, tx, normalized.CountryCode, normalized.PartyID)
		if err != nil {
			return err
		}
		if existing == nil {
			now := s.clock.Now()
			peer := &peerdomain.Peer{
				ID:                s.genID.Generate(),
				CountryCode:       normalized.CountryCode,
				PartyID:           normalized.PartyID,
				BusinessName:      normalized.BusinessName,
				Roles:             datatypes.NewJSONSlice(normalized.Roles),
				BaseVersionsURL:   normalized.BaseVersionsURL,
				BootstrapTokenEnc: bootstrapEnc,
				Status:            peerdomain.StatusPending,
				LastUpdated:       now,
				CreatedAt:         now,
			}
			if err := s.repo.Insert(ctx, tx, peer); err != nil {
				return err
			}
			out = peer
			created = true
			return nil
		}

		before := existing.LastUpdated
		updated, err := s.applyUpsert(ctx, tx, existing, normalized, bootstrapEnc)
		if err != nil {
			return err
		}
		out = updated
		changed = !updated.LastUpdated.Equal(before)
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost a concurrent create for the same key; the winner's row is the answer.
			existing, findErr := s.repo.FindByKey(ctx, s.db, normalized.CountryCode, normalized.PartyID)
			if findErr == nil && existing != nil {
				s.log.Debug("peer created concurrently", zap.String("peer_id", existing.ID.String()))
				return toSummary(existing), nil
			}
		}
		return nil, err
	}

	s.log.Info("peer upserted",
		zap.String("peer_id", out.ID.String()),
		zap.String("country_code", out.CountryCode),
		zap.String("party_id", out.PartyID),
		zap.String("status", string(out.Status)),
	)
	switch {
	case created:
		s.emitAudit(ctx, auditdomain.ActionPeerCreated, out.ID, map[string]any{
			"country_code":    out.CountryCode,
			"party_id":        out.PartyID,
			"versions_url":    out.BaseVersionsURL,
			"bootstrap_token": normalized.BootstrapToken,
			"status":          string(out.Status),
		})
	case changed:
		s.emitAudit(ctx, auditdomain.ActionPeerUpdated, out.ID, map[string]any{
			"versions_url":    out.BaseVersionsURL,
			"bootstrap_token": normalized.BootstrapToken,
			"status":          string(out.Status),
		})
	}
	return toSummary(out), nil
}

func (s *Service) applyUpsert(ctx context.Context, tx *gorm.DB, existing *peerdomain.Peer, req peerdomain.UpsertRequest, bootstrapEnc string) (*peerdomain.Peer, error) {
	if existing.Status == peerdomain.StatusRevoked {
		return nil, peerdomain.ErrPeerRevoked
	}

	urlChanged := existing.BaseVersionsURL != req.BaseVersionsURL
	differs := urlChanged ||
		!sameRoles(existing.Roles, req.Roles) ||
		(req.BusinessName != "" && existing.BusinessName != req.BusinessName)

	// A fresh bootstrap token only matters before tokens are exchanged.
	rebootstrap := false
	if req.BootstrapToken != "" && existing.Status == peerdomain.StatusPending {
		current, err := s.cipher.Decrypt(existing.BootstrapTokenEnc)
		if err != nil {
			return nil, err
		}
		rebootstrap = current != req.BootstrapToken
	}
	if !differs && !rebootstrap {
		return existing, nil
	}
	if differs && existing.Status == peerdomain.StatusRegistered && !req.AllowUpdate {
		return nil, peerdomain.ErrConflict
	}

	previous := existing.Status
	if differs {
		existing.BaseVersionsURL = req.BaseVersionsURL
		existing.Roles = datatypes.NewJSONSlice(req.Roles)
		if req.BusinessName != "" {
			existing.BusinessName = req.BusinessName
		}
		if urlChanged && existing.Status == peerdomain.StatusRegistered {
			existing.Status = peerdomain.StatusPending
		}
	}
	if rebootstrap {
		existing.BootstrapTokenEnc = bootstrapEnc
	}
	existing.LastUpdated = s.clock.Now()

	if err := s.repo.UpdateProfile(ctx, tx, existing); err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(previous), string(existing.Status))
	return existing, nil
}

func (s *Service) RecordTokens(ctx context.Context, id snowflake.ID, ourTokenForPeer, peerTokenForUs string) error {
	if strings.TrimSpace(ourTokenForPeer) == "" || strings.TrimSpace(peerTokenForUs) == "" {
		return peerdomain.ErrInvalidToken
	}

	ourEnc, err := s.cipher.Encrypt(ourTokenForPeer)
	if err != nil {
		return err
	}
	peerEnc, err := s.cipher.Encrypt(peerTokenForUs)
	if err != nil {
		return err
	}

	affected, err := s.repo.UpdateTokens(ctx, s.db, id, ourEnc, peerEnc, secret.HashToken(peerTokenForUs), s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missOrRevoked(ctx, id)
	}

	s.log.Info("peer tokens recorded",
		zap.String("peer_id", id.String()),
		zap.String("our_token", secret.Mask(ourTokenForPeer)),
		zap.String("peer_token", secret.Mask(peerTokenForUs)),
	)
	s.emitAudit(ctx, auditdomain.ActionPeerTokensRecorded, id, map[string]any{
		"our_token":  ourTokenForPeer,
		"peer_token": peerTokenForUs,
	})
	return nil
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, target peerdomain.Status) error {
	if !target.Valid() {
		return peerdomain.ErrInvalidStatus
	}

	peer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if peer == nil {
		return peerdomain.ErrNotFound
	}
	if peer.Status == target {
		return nil
	}
	if !isTransitionAllowed(peer.Status, target) {
		return peerdomain.ErrInvalidTransition
	}

	affected, err := s.repo.CompareAndSetStatus(ctx, s.db, id, peer.Status, target, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		// Someone else moved the peer between the read and the write.
		return peerdomain.ErrConflict
	}

	s.metrics.IncTransition(string(peer.Status), string(target))
	s.log.Info("peer transitioned",
		zap.String("peer_id", id.String()),
		zap.String("from", string(peer.Status)),
		zap.String("to", string(target)),
	)
	s.emitAudit(ctx, auditdomain.ActionPeerTransitioned, id, map[string]any{
		"from": string(peer.Status),
		"to":   string(target),
	})
	return nil
}

func (s *Service) SetChosenVersion(ctx context.Context, id snowflake.ID, version ocpi.Version) error {
	if !version.Valid() {
		return peerdomain.ErrInvalidVersion
	}
	affected, err := s.repo.UpdateChosenVersion(ctx, s.db, id, string(version), s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missOrRevoked(ctx, id)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*peerdomain.Record, error) {
	peer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, peerdomain.ErrNotFound
	}
	return s.toRecord(peer)
}

func (s *Service) List(ctx context.Context, req peerdomain.ListRequest) ([]peerdomain.Summary, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, peerdomain.ErrInvalidStatus
	}

	items, err := s.repo.List(ctx, s.db, peerdomain.ListFilter{
		Status:      req.Status,
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		PartyID:     strings.ToUpper(strings.TrimSpace(req.PartyID)),
	})
	if err != nil {
		return nil, err
	}

	resp := make([]peerdomain.Summary, 0, len(items))
	for i := range items {
		resp = append(resp, *toSummary(&items[i]))
	}
	return resp, nil
}

func (s *Service) FindByToken(ctx context.Context, rawToken string) (*peerdomain.Record, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ocpi.ErrUnknownToken
	}
	peer, err := s.repo.FindActiveByTokenHash(ctx, s.db, secret.HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, ocpi.ErrUnknownToken
	}
	return s.toRecord(peer)
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.Delete(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return peerdomain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("peer deleted", zap.String("peer_id", id.String()))
	s.emitAudit(ctx, auditdomain.ActionPeerDeleted, id, nil)
	return nil
}

// emitAudit records a durable entry on the service's handle, so entries
// written inside WithTx roll back with it. Failures are logged by the audit
// service.
func (s *Service) emitAudit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	targetID := id.String()
	_ = s.audit.WithTx(s.db).AuditLog(ctx, "", nil, action, auditdomain.TargetTypePeer, &targetID, metadata)
}

func (s *Service) RecordAttempt(ctx context.Context, id snowflake.ID, kind string, nextAttemptAt *time.Time) error {
	peer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if peer == nil {
		return peerdomain.ErrNotFound
	}

	attempts := 0
	if kind != "" {
		attempts = peer.Attempts + 1
	} else {
		nextAttemptAt = nil
	}
	if nextAttemptAt != nil {
		next := nextAttemptAt.UTC()
		nextAttemptAt = &next
	}

	_, err = s.repo.UpdateAttempt(ctx, s.db, id, attempts, kind, nextAttemptAt, s.clock.Now())
	return err
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]peerdomain.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	items, err := s.repo.ListDue(ctx, s.db, now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	resp := make([]peerdomain.Summary, 0, len(items))
	for i := range items {
		resp = append(resp, *toSummary(&items[i]))
	}
	return resp, nil
}

func (s *Service) missOrRevoked(ctx context.Context, id snowflake.ID) error {
	peer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if peer == nil {
		return peerdomain.ErrNotFound
	}
	if peer.Status == peerdomain.StatusRevoked {
		return peerdomain.ErrPeerRevoked
	}
	return peerdomain.ErrConflict
}

func (s *Service) toRecord(peer *peerdomain.Peer) (*peerdomain.Record, error) {
	ourToken, err := s.cipher.Decrypt(peer.OurTokenForPeerEnc)
	if err != nil {
		return nil, err
	}
	peerToken, err := s.cipher.Decrypt(peer.PeerTokenForUsEnc)
	if err != nil {
		return nil, err
	}
	bootstrap, err := s.cipher.Decrypt(peer.BootstrapTokenEnc)
	if err != nil {
		return nil, err
	}
	return &peerdomain.Record{
		Summary:         *toSummary(peer),
		PeerID:          peer.ID,
		OurTokenForPeer: ourToken,
		PeerTokenForUs:  peerToken,
		BootstrapToken:  bootstrap,
	}, nil
}

func toSummary(peer *peerdomain.Peer) *peerdomain.Summary {
	var next *time.Time
	if peer.NextAttemptAt != nil {
		t := peer.NextAttemptAt.UTC()
		next = &t
	}
	return &peerdomain.Summary{
		ID:              peer.ID.String(),
		CountryCode:     peer.CountryCode,
		PartyID:         peer.PartyID,
		BusinessName:    peer.BusinessName,
		Roles:           slices.Clone([]ocpi.Role(peer.Roles)),
		BaseVersionsURL: peer.BaseVersionsURL,
		ChosenVersion:   ocpi.Version(peer.ChosenVersion),
		Status:          peer.Status,
		Attempts:        peer.Attempts,
		LastErrorKind:   peer.LastErrorKind,
		NextAttemptAt:   next,
		LastUpdated:     peer.LastUpdated.UTC(),
		CreatedAt:       peer.CreatedAt.UTC(),
	}
}

func isTransitionAllowed(current, target peerdomain.Status) bool {
	switch current {
	case peerdomain.StatusPending:
		return target == peerdomain.StatusRegistered || target == peerdomain.StatusRevoked
	case peerdomain.StatusRegistered:
		return target == peerdomain.StatusPending || target == peerdomain.StatusRevoked
	default:
		return false
	}
}

func normalizeUpsert(req peerdomain.UpsertRequest) (peerdomain.UpsertRequest, error) {
	out := peerdomain.UpsertRequest{
		CountryCode:     strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		PartyID:         strings.ToUpper(strings.TrimSpace(req.PartyID)),
		BusinessName:    strings.TrimSpace(req.BusinessName),
		BaseVersionsURL: strings.TrimSpace(req.BaseVersionsURL),
		BootstrapToken:  strings.TrimSpace(req.BootstrapToken),
		AllowUpdate:     req.AllowUpdate,
	}

	if len(out.CountryCode) != 2 || !isAlpha(out.CountryCode) {
		return out, peerdomain.ErrInvalidCountryCode
	}
	if len(out.PartyID) != 3 || !isAlphaNum(out.PartyID) {
		return out, peerdomain.ErrInvalidPartyID
	}
	if !isAbsoluteHTTPURL(out.BaseVersionsURL) {
		return out, peerdomain.ErrInvalidVersionsURL
	}

	roles, err := normalizeRoles(req.Roles)
	if err != nil {
		return out, err
	}
	out.Roles = roles
	return out, nil
}

func normalizeRoles(in []ocpi.Role) ([]ocpi.Role, error) {
	if len(in) == 0 {
		return nil, peerdomain.ErrInvalidRoles
	}
	out := make([]ocpi.Role, 0, len(in))
	for _, raw := range in {
		role, ok := ocpi.ParseRole(string(raw))
		if !ok {
			return nil, peerdomain.ErrInvalidRoles
		}
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out, nil
}

func sameRoles(stored datatypes.JSONSlice[ocpi.Role], roles []ocpi.Role) bool {
	current := slices.Clone([]ocpi.Role(stored))
	slices.Sort(current)
	return slices.Equal(current, roles)
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func isAlpha(v string) bool {
	for _, c := range v {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func isAlphaNum(v string) bool {
	for _, c := range v {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
