package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/netvora/billing/internal/billingevent"
	"github.com/netvora/billing/internal/catalog"
	"github.com/netvora/billing/internal/clock"
	"github.com/netvora/billing/internal/config"
	"github.com/netvora/billing/internal/invoice"
	"github.com/netvora/billing/internal/migration"
	"github.com/netvora/billing/internal/observability"
	"github.com/netvora/billing/internal/payment"
	"github.com/netvora/billing/internal/providers"
	"github.com/netvora/billing/internal/scheduler"
	"github.com/netvora/billing/internal/server"
	"github.com/netvora/billing/internal/subscription"
	"github.com/netvora/billing/internal/tasks"
	"github.com/netvora/billing/pkg/db"
	"github.com/netvora/billing/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		catalog.Module,
		billingevent.Module,
		tasks.Module,
		providers.Module,
		invoice.Module,
		subscription.Module,
		payment.Module,
		scheduler.Module,

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
