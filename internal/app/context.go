package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gigescrow/internal/config"
	"gigescrow/internal/db"
	"gigescrow/internal/engine"
	"gigescrow/internal/logging"
	"gigescrow/internal/migrate"
)

// Runtime is an opened workspace: the migrated database, the logger and the
// engine wired on top of them.
type Runtime struct {
	DB     *sql.DB
	Engine engine.Engine
	Log    *zap.Logger
}

// ResolveConfig loads the config from an explicit path when given, otherwise
// from the workspace, falling back to defaults when no file exists.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(workspace)
}

// Open ensures the workspace exists, migrates its database and builds the
// engine. Callers must Close the runtime.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(workspace); err != nil {
			return nil, err
		}
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("versions", applied), zap.String("db", db.Path(workspace)))
	}
	e, err := engine.New(conn, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Runtime{DB: conn, Engine: e, Log: log}, nil
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	_ = r.Log.Sync()
	return r.DB.Close()
}
