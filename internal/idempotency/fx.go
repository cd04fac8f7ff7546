package idempotency

import (
	"github.com/smallbiznis/creditmeter/internal/idempotency/repository"
	"github.com/smallbiznis/creditmeter/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
