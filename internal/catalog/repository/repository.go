package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/ocpilink/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) DeleteByPeer(ctx context.Context, db *gorm.DB, peerID snowflake.ID) error {
	statements := []string{
		`DELETE FROM peer_endpoints WHERE peer_id = ?`,
		`DELETE FROM module_endpoints WHERE version_detail_id IN (SELECT id FROM version_details WHERE peer_id = ?)`,
		`DELETE FROM version_details WHERE peer_id = ?`,
	}
	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt, peerID).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) InsertVersionDetail(ctx context.Context, db *gorm.DB, detail *catalogdomain.VersionDetail) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO version_details (id, peer_id, version, created_at) VALUES (?, ?, ?, ?)`,
		detail.ID,
		detail.PeerID,
		detail.Version,
		detail.CreatedAt,
	).Error
}

func (r *repo) InsertModuleEndpoint(ctx context.Context, db *gorm.DB, endpoint *catalogdomain.ModuleEndpoint) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO module_endpoints (id, version_detail_id, identifier, url) VALUES (?, ?, ?, ?)`,
		endpoint.ID,
		endpoint.VersionDetailID,
		endpoint.Identifier,
		endpoint.URL,
	).Error
}

func (r *repo) InsertPeerEndpoint(ctx context.Context, db *gorm.DB, endpoint *catalogdomain.PeerEndpoint) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO peer_endpoints (id, peer_id, module, role, url) VALUES (?, ?, ?, ?, ?)`,
		endpoint.ID,
		endpoint.PeerID,
		endpoint.Module,
		endpoint.Role,
		endpoint.URL,
	).Error
}

func (r *repo) FindVersionDetail(ctx context.Context, db *gorm.DB, peerID snowflake.ID) (*catalogdomain.VersionDetail, error) {
	var detail catalogdomain.VersionDetail
	err := db.WithContext(ctx).Raw(
		`SELECT id, peer_id, version, created_at FROM version_details
		 WHERE peer_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		peerID,
	).Scan(&detail).Error
	if err != nil {
		return nil, err
	}
	if detail.ID == 0 {
		return nil, nil
	}
	return &detail, nil
}

func (r *repo) ListModuleEndpoints(ctx context.Context, db *gorm.DB, versionDetailID snowflake.ID) ([]catalogdomain.ModuleEndpoint, error) {
	var endpoints []catalogdomain.ModuleEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, version_detail_id, identifier, url FROM module_endpoints
		 WHERE version_detail_id = ? ORDER BY identifier ASC`,
		versionDetailID,
	).Scan(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *repo) ListPeerEndpoints(ctx context.Context, db *gorm.DB, peerID snowflake.ID) ([]catalogdomain.PeerEndpoint, error) {
	var endpoints []catalogdomain.PeerEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, peer_id, module, role, url FROM peer_endpoints
		 WHERE peer_id = ? ORDER BY module ASC, role ASC`,
		peerID,
	).Scan(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *repo) FindPeerEndpoint(ctx context.Context, db *gorm.DB, peerID snowflake.ID, module, role string) (*catalogdomain.PeerEndpoint, error) {
	var endpoint catalogdomain.PeerEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, peer_id, module, role, url FROM peer_endpoints
		 WHERE peer_id = ? AND module = ? AND role = ?`,
		peerID,
		module,
		role,
	).Scan(&endpoint).Error
	if err != nil {
		return nil, err
	}
	if endpoint.ID == 0 {
		return nil, nil
	}
	return &endpoint, nil
}

func (r *repo) FindModuleEndpoint(ctx context.Context, db *gorm.DB, peerID snowflake.ID, module string) (*catalogdomain.ModuleEndpoint, error) {
	var endpoint catalogdomain.ModuleEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT me.id, me.version_detail_id, me.identifier, me.url
		 FROM module_endpoints me
		 JOIN version_details vd ON vd.id = me.version_detail_id
		 WHERE vd.peer_id = ? AND me.identifier = ?
		 ORDER BY vd.created_at DESC
		 LIMIT 1`,
		peerID,
		module,
	).Scan(&endpoint).Error
	if err != nil {
		return nil, err
	}
	if endpoint.ID == 0 {
		return nil, nil
	}
	return &endpoint, nil
}
