package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status      Status
	CountryCode string
	PartyID     string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, peer *Peer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Peer, error)
	FindByKey(ctx context.Context, db *gorm.DB, countryCode, partyID string) (*Peer, error)
	FindActiveByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*Peer, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Peer, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Peer, error)
	UpdateProfile(ctx context.Context, db *gorm.DB, peer *Peer) error
	UpdateTokens(ctx context.Context, db *gorm.DB, id snowflake.ID, ourTokenEnc, peerTokenEnc, peerTokenHash string, now time.Time) (int64, error)
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, now time.Time) (int64, error)
	UpdateChosenVersion(ctx context.Context, db *gorm.DB, id snowflake.ID, version string, now time.Time) (int64, error)
	UpdateAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, kind string, nextAttemptAt *time.Time, now time.Time) (int64, error)
	// Delete removes the peer together with its catalog rows.
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
