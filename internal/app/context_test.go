package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigescrow/internal/config"
	"gigescrow/internal/db"
	"gigescrow/internal/repo"
)

func TestOpenMigratesWorkspace(t *testing.T) {
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Log.Level = "error"

	rt, err := Open(context.Background(), workspace, cfg)
	require.NoError(t, err)
	defer rt.Close()

	assert.FileExists(t, db.Path(workspace))
	jobs, err := rt.Engine.ListJobs(context.Background(), repo.JobFilters{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestResolveConfigPrefersExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("deployment:\n  protocol_fee_bps: 100\n"), 0o644))

	cfg, err := ResolveConfig(dir, path)
	require.NoError(t, err)
	assert.EqualValues(t, 100, cfg.Deployment.ProtocolFeeBps)
	assert.Equal(t, "marketplace", cfg.Deployment.Marketplace)

	cfg, err = ResolveConfig(dir, "")
	require.NoError(t, err)
	assert.EqualValues(t, 250, cfg.Deployment.ProtocolFeeBps)

	_, err = ResolveConfig(dir, filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
