package migration

import (
	"context"

	"github.com/subtrackhq/subtrack/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, conn *gorm.DB, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := Apply(ctx, conn, cfg.DBType); err != nil {
					return err
				}
				log.Info("schema migrated", zap.String("driver", cfg.DBType))
				return nil
			},
		})
	}),
)
