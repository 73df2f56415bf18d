package tasks

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("tasks",
	fx.Provide(ProvideDispatcher),
)

func ProvideDispatcher(lc fx.Lifecycle, log *zap.Logger) Dispatcher {
	pool := NewPool(DefaultPoolConfig(), log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})

	return pool
}
