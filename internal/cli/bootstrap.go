package cli

import (
	"context"

	"github.com/koustreak/recordbase/internal/config"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/database/mysql"
	"github.com/koustreak/recordbase/internal/database/postgres"
	"github.com/koustreak/recordbase/internal/database/sqlite"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/schema"
)

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore connects to the configured driver.
func openStore(ctx context.Context, cfg *database.Config) (database.DB, error) {
	var (
		db  database.DB
		err error
	)
	switch cfg.Driver {
	case database.DriverSQLite:
		db, err = sqlite.New(ctx, cfg)
	case database.DriverPostgres:
		db, err = postgres.New(ctx, cfg)
	case database.DriverMySQL:
		db, err = mysql.New(ctx, cfg)
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openRegistry opens the store and loads its schema.
func openRegistry(ctx context.Context, cfg *config.Config, log *logger.Logger) (database.DB, *schema.Registry, error) {
	db, err := openStore(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, nil, err
	}
	reg := schema.NewRegistry(db, schema.Options{Tables: cfg.TableConfigs(), Logger: log})
	if err := reg.Reload(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, reg, nil
}
