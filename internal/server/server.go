package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/subtrackhq/subtrack/internal/config"
	paymentdomain "github.com/subtrackhq/subtrack/internal/payment/domain"
	quotadomain "github.com/subtrackhq/subtrack/internal/quota/domain"
	receiptdomain "github.com/subtrackhq/subtrack/internal/receipt/domain"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Invoke(registerHTTP),
)

type Params struct {
	fx.In

	Cfg             config.Config
	Log             *zap.Logger
	DB              *gorm.DB
	WebhookSvc      paymentdomain.WebhookService
	ReceiptSvc      receiptdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Quota           quotadomain.Service `optional:"true"`
}

type Server struct {
	cfg             config.Config
	log             *zap.Logger
	db              *gorm.DB
	webhookSvc      paymentdomain.WebhookService
	receiptSvc      receiptdomain.Service
	subscriptionSvc subscriptiondomain.Service
	quota           quotadomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		db:              p.DB,
		webhookSvc:      p.WebhookSvc,
		receiptSvc:      p.ReceiptSvc,
		subscriptionSvc: p.SubscriptionSvc,
		quota:           p.Quota,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(RequestID(), Recovery(s.log), AccessLog(s.log))

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhooks/stripe", s.StripeWebhook)

	v1 := r.Group("/v1")
	v1.POST("/receipts/apple", s.ValidateAppleReceipt)

	authed := v1.Group("", RequireUser([]byte(s.cfg.JWTSecret)))
	authed.POST("/subscriptions", s.CreateSubscription)
	authed.POST("/subscriptions/billing-cycle", s.SwitchBillingCycle)
	authed.POST("/subscriptions/cancel", s.CancelSubscription)
	authed.GET("/entitlement", s.GetEntitlement)

	return r
}

func registerHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			s.log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
