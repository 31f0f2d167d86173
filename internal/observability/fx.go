package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(NewLogger),
	fx.Provide(func() (*Metrics, error) {
		return NewMetrics(prometheus.DefaultRegisterer)
	}),
	fx.Invoke(setupTracing),
	fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger) {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}),
)
