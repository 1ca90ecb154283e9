package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-cli/internal/scoring"
	"github.com/sells-group/pipeline-cli/internal/store"
)

// openStore opens the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Store.Driver)
	}
}

// newEngine builds the scoring engine from the configured calibration file,
// falling back to built-in defaults when no file is set.
func newEngine() (*scoring.Engine, error) {
	scoringCfg, err := scoring.LoadConfigFile(cfg.Scoring.ConfigPath)
	if err != nil {
		return nil, err
	}
	return scoring.New(scoringCfg)
}
