// @title           Sufra API
// @version         1.0
// @description     Sufra subscription-day lifecycle and credit ledger API

// @host      localhost:8080
// @BasePath  /api
// @Schemes   http https

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/activitylog"
	"github.com/sufrahq/sufra/internal/automation"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/config"
	"github.com/sufrahq/sufra/internal/delivery"
	"github.com/sufrahq/sufra/internal/fulfillment"
	"github.com/sufrahq/sufra/internal/ledger"
	"github.com/sufrahq/sufra/internal/logger"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/migration"
	"github.com/sufrahq/sufra/internal/notify"
	"github.com/sufrahq/sufra/internal/order"
	"github.com/sufrahq/sufra/internal/payment"
	"github.com/sufrahq/sufra/internal/salad"
	"github.com/sufrahq/sufra/internal/seed"
	"github.com/sufrahq/sufra/internal/server"
	"github.com/sufrahq/sufra/internal/settings"
	"github.com/sufrahq/sufra/internal/subscription"
	"github.com/sufrahq/sufra/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,

		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureDefaults(conn)
		}),

		settings.Module,
		catalog.Module,
		salad.Module,
		ledger.Module,
		subscription.Module,
		delivery.Module,
		fulfillment.Module,
		order.Module,
		payment.Module,
		notify.Module,
		activitylog.Module,
		automation.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
