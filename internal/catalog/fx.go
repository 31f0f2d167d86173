package catalog

import (
	"github.com/subtrackhq/subtrack/internal/catalog/repository"
	"github.com/subtrackhq/subtrack/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
