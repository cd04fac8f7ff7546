package tools

import "go.uber.org/fx"

var Module = fx.Module("tools",
	fx.Provide(NewBuiltinRegistry),
)
