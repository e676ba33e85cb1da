package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ocpilink/internal/audit/auditcontext"
	auditdomain "github.com/smallbiznis/ocpilink/internal/audit/domain"
	"github.com/smallbiznis/ocpilink/internal/audit/repository"
	"github.com/smallbiznis/ocpilink/internal/clock"
	"github.com/smallbiznis/ocpilink/internal/migration"
	"github.com/smallbiznis/ocpilink/pkg/db"
	"github.com/smallbiznis/ocpilink/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, conn, clk
}

func strPtr(v string) *string { return &v }

func TestAuditLogMasksTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := correlation.WithID(context.Background(), "corr-7")

	err := svc.AuditLog(ctx, "", nil, auditdomain.ActionPeerTokensRecorded, auditdomain.TargetTypePeer, strPtr("42"), map[string]any{
		"our_token":  "0123456789abcdef-our-credential",
		"peer_token": "fedcba9876543210-peer-credential",
		"status":     "PENDING",
	})
	require.NoError(t, err)

	logs, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetID: "42"})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, string(auditdomain.ActorTypeSystem), entry.ActorType)
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, "****tial", entry.Metadata["our_token"])
	assert.Equal(t, "****tial", entry.Metadata["peer_token"])
	assert.Equal(t, "PENDING", entry.Metadata["status"])
	assert.Equal(t, "corr-7", entry.Metadata["correlation_id"])
}

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := auditcontext.WithActor(context.Background(), string(auditdomain.ActorTypePeer), "99")
	ctx = auditcontext.WithRequest(ctx, "10.0.0.7", "peer-agent/1.0")

	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionCredentialsDeleted, auditdomain.TargetTypePeer, strPtr("99"), nil))

	logs, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, string(auditdomain.ActorTypePeer), entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "99", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.7", *entry.IPAddress)
	require.NotNil(t, entry.UserAgent)
	assert.Equal(t, "peer-agent/1.0", *entry.UserAgent)
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.AuditLog(context.Background(), "", nil, " ", auditdomain.TargetTypePeer, nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListFiltersAndOrdersNewestFirst(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionPeerCreated, auditdomain.TargetTypePeer, strPtr("1"), nil))
	clk.Advance(time.Minute)
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionPeerTransitioned, auditdomain.TargetTypePeer, strPtr("1"), nil))
	clk.Advance(time.Minute)
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionPeerCreated, auditdomain.TargetTypePeer, strPtr("2"), nil))

	logs, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetID: "1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, auditdomain.ActionPeerTransitioned, logs[0].Action)
	assert.Equal(t, auditdomain.ActionPeerCreated, logs[1].Action)

	logs, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionPeerCreated, Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, "2", *logs[0].TargetID)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc, _, _ := newTestService(t)
	start := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

func TestWithTxRollsBackEntries(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	err := conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.WithTx(tx).AuditLog(ctx, "", nil, auditdomain.ActionPeerDeleted, auditdomain.TargetTypePeer, strPtr("5"), nil))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	logs, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}
