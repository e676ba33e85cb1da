package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/ocpilink/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestApplyCreatesTablesOnSQLite(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, Apply(conn))

	for _, table := range []string{"peers", "version_details", "module_endpoints", "peer_endpoints", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("peers", "ux_peers_country_party"))
	assert.True(t, conn.Migrator().HasIndex("peer_endpoints", "ux_peer_endpoints_peer_module_role"))
	assert.True(t, conn.Migrator().HasIndex("audit_logs", "ix_audit_logs_target"))
}
