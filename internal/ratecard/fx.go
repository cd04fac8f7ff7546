package ratecard

import (
	"github.com/smallbiznis/creditmeter/internal/ratecard/repository"
	"github.com/smallbiznis/creditmeter/internal/ratecard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ratecard.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
