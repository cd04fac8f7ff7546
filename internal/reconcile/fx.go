package reconcile

import "go.uber.org/fx"

var Module = fx.Module("reconcile",
	fx.Provide(NewRedisClient),
	fx.Provide(NewRedisLock),
	fx.Provide(New),
)
