package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gigescrow/internal/db"
	"gigescrow/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	applied, err := migrate.Migrate(conn)
	require.NoError(t, err)
	require.Contains(t, applied, "0001_init.sql")

	applied, err = migrate.Migrate(conn)
	require.NoError(t, err)
	require.Empty(t, applied)

	for _, table := range []string{"jobs", "proposals", "milestones", "escrow_payments", "reviews", "reputations", "accounts", "ledger_entries", "events", "api_keys"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
