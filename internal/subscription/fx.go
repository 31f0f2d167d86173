package subscription

import (
	"github.com/subtrackhq/subtrack/internal/subscription/repository"
	"github.com/subtrackhq/subtrack/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
