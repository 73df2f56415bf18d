package migration

import (
	"github.com/netvora/billing/internal/config"
	"github.com/netvora/billing/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(cfg config.Config, conn *gorm.DB) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}
		if cfg.SeedDemo {
			return seed.EnsureDemoCatalog(conn)
		}
		return nil
	}),
)
