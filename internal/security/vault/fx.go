package vault

import (
	"github.com/subtrackhq/subtrack/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("security.vault",
	fx.Provide(
		func(cfg config.Config) (Provider, error) {
			return NewFactory(Config{
				Provider: cfg.Vault.Provider,
				AESKey:   cfg.Vault.AESKey,
			})
		},
	),
)
