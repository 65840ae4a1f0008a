package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

// MaybeRunDev prepares the schema for local runs. A sqlite store always gets
// its schema ensured; Postgres runs goose only in dev with the auto-migrate flag.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg.DB.Driver == config.DBDriverSQLite {
		logg.Info(logg.WithField(ctx, "path", cfg.DB.SQLitePath), "ensuring sqlite orders schema")
		return EnsureSQLiteSchema(ctx, client.DB())
	}
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	meta := map[string]any{"env": cfg.App.Env}
	ctx = logg.WithFields(ctx, meta)
	logg.Info(ctx, "migrate.autorun.started")

	if err := Run(ctx, sqlDB, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "migrate.autorun.completed")
	return nil
}
