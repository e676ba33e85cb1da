package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	peerdomain "github.com/smallbiznis/ocpilink/internal/peer/domain"
	"gorm.io/gorm"
)

const peerColumns = `id, country_code, party_id, business_name, roles, base_versions_url,
	our_token_for_peer, peer_token_for_us, peer_token_hash, bootstrap_token, chosen_version,
	status, attempts, last_error_kind, next_attempt_at, last_updated, created_at`

type repo struct{}

func Provide() peerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, peer *peerdomain.Peer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO peers (`+peerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		peer.ID,
		peer.CountryCode,
		peer.PartyID,
		peer.BusinessName,
		peer.Roles,
		peer.BaseVersionsURL,
		peer.OurTokenForPeerEnc,
		peer.PeerTokenForUsEnc,
		peer.PeerTokenHash,
		peer.BootstrapTokenEnc,
		peer.ChosenVersion,
		peer.Status,
		peer.Attempts,
		peer.LastErrorKind,
		peer.NextAttemptAt,
		peer.LastUpdated,
		peer.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*peerdomain.Peer, error) {
	return r.findOne(ctx, db, `SELECT `+peerColumns+` FROM peers WHERE id = ?`, id)
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, countryCode, partyID string) (*peerdomain.Peer, error) {
	return r.findOne(ctx, db,
		`SELECT `+peerColumns+` FROM peers WHERE country_code = ? AND party_id = ?`,
		countryCode,
		partyID,
	)
}

func (r *repo) FindActiveByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*peerdomain.Peer, error) {
	return r.findOne(ctx, db,
		`SELECT `+peerColumns+` FROM peers WHERE peer_token_hash = ? AND status <> ?`,
		hash,
		peerdomain.StatusRevoked,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*peerdomain.Peer, error) {
	var peer peerdomain.Peer
	err := db.WithContext(ctx).Raw(query, args...).Scan(&peer).Error
	if err != nil {
		return nil, err
	}
	if peer.ID == 0 {
		return nil, nil
	}
	return &peer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter peerdomain.ListFilter) ([]peerdomain.Peer, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CountryCode != "" {
		clauses = append(clauses, "country_code = ?")
		args = append(args, filter.CountryCode)
	}
	if filter.PartyID != "" {
		clauses = append(clauses, "party_id = ?")
		args = append(args, filter.PartyID)
	}

	query := `SELECT ` + peerColumns + ` FROM peers`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY country_code ASC, party_id ASC`

	var peers []peerdomain.Peer
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&peers).Error; err != nil {
		return nil, err
	}
	return peers, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]peerdomain.Peer, error) {
	var peers []peerdomain.Peer
	err := db.WithContext(ctx).Raw(
		`SELECT `+peerColumns+` FROM peers
		 WHERE status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		peerdomain.StatusPending,
		now,
		limit,
	).Scan(&peers).Error
	if err != nil {
		return nil, err
	}
	return peers, nil
}

func (r *repo) UpdateProfile(ctx context.Context, db *gorm.DB, peer *peerdomain.Peer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE peers
		 SET business_name = ?, roles = ?, base_versions_url = ?, bootstrap_token = ?, status = ?, last_updated = ?
		 WHERE id = ?`,
		peer.BusinessName,
		peer.Roles,
		peer.BaseVersionsURL,
		peer.BootstrapTokenEnc,
		peer.Status,
		peer.LastUpdated,
		peer.ID,
	).Error
}

func (r *repo) UpdateTokens(ctx context.Context, db *gorm.DB, id snowflake.ID, ourTokenEnc, peerTokenEnc, peerTokenHash string, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE peers
		 SET our_token_for_peer = ?, peer_token_for_us = ?, peer_token_hash = ?, bootstrap_token = '', last_updated = ?
		 WHERE id = ? AND status <> ?`,
		ourTokenEnc,
		peerTokenEnc,
		peerTokenHash,
		now,
		id,
		peerdomain.StatusRevoked,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to peerdomain.Status, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE peers SET status = ?, last_updated = ? WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateChosenVersion(ctx context.Context, db *gorm.DB, id snowflake.ID, version string, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE peers SET chosen_version = ?, last_updated = ? WHERE id = ? AND status <> ?`,
		version,
		now,
		id,
		peerdomain.StatusRevoked,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, kind string, nextAttemptAt *time.Time, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE peers SET attempts = ?, last_error_kind = ?, next_attempt_at = ?, last_updated = ? WHERE id = ?`,
		attempts,
		kind,
		nextAttemptAt,
		now,
		id,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	statements := []string{
		`DELETE FROM peer_endpoints WHERE peer_id = ?`,
		`DELETE FROM module_endpoints WHERE version_detail_id IN (SELECT id FROM version_details WHERE peer_id = ?)`,
		`DELETE FROM version_details WHERE peer_id = ?`,
	}
	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt, id).Error; err != nil {
			return 0, err
		}
	}

	result := db.WithContext(ctx).Exec(`DELETE FROM peers WHERE id = ?`, id)
	return result.RowsAffected, result.Error
}
