package cli

import (
	"context"
	"fmt"

	"coinsync/config"
	"coinsync/models"
	"coinsync/services"
	"coinsync/utils"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openDatabase is replaced in tests.
var openDatabase = func(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
}

// loadConfig is replaced in tests.
var loadConfig = config.Load

// runtime is what every command needs: settings, a migrated database and
// the engine.
type runtime struct {
	cfg    *config.Config
	db     *gorm.DB
	engine *services.Engine
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	engine := services.NewEngine(cfg, db, newClient(cfg), nil)
	if cfg.ExportConfigured() {
		store, err := utils.NewR2Store(ctx, cfg.CloudflareAccountID, cfg.R2AccessKeyID, cfg.R2AccessKeySecret, cfg.R2Bucket)
		if err != nil {
			return nil, err
		}
		engine.Exporter.Store = store
	}
	return &runtime{cfg: cfg, db: db, engine: engine}, nil
}

// newClient returns nil (not a typed nil) when the remote service is not
// configured.
func newClient(cfg *config.Config) services.RewardsAPI {
	if cfg.APIURL == "" || cfg.APIKey == "" || cfg.AccountID == "" {
		return nil
	}
	return services.NewRewardsClient(cfg.APIURL, cfg.APIKey, cfg.AccountID, cfg.RemoteTimeout)
}

func (r *runtime) close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
