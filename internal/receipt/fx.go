package receipt

import (
	"github.com/subtrackhq/subtrack/internal/receipt/client"
	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"github.com/subtrackhq/subtrack/internal/receipt/repository"
	"github.com/subtrackhq/subtrack/internal/receipt/service"
	"go.uber.org/fx"
)

var Module = fx.Module("receipt.service",
	fx.Provide(repository.Provide),
	fx.Provide(fx.Annotate(client.NewAppleClient, fx.As(new(domain.Verifier)))),
	fx.Provide(service.NewService),
)
