package entitlement

import (
	"github.com/smallbiznis/creditmeter/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(service.New),
)
