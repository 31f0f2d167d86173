package quota

import (
	"github.com/subtrackhq/subtrack/internal/quota/domain"
	"github.com/subtrackhq/subtrack/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(
		domain.LoadFromEnv,
		service.NewService,
	),
)
