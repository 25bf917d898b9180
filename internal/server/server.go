// Package server exposes the HTTP surface: subscriber day management, the
// kitchen and courier board, the Moyasar webhook and a small admin API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/activitylog"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/config"
	"github.com/sufrahq/sufra/internal/delivery"
	"github.com/sufrahq/sufra/internal/fulfillment"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/order"
	paymentdomain "github.com/sufrahq/sufra/internal/payment/domain"
	"github.com/sufrahq/sufra/internal/payment/moyasar"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Subs       subdomain.Service
	Fulfill    fulfillment.Service
	Payments   paymentdomain.Service
	Moyasar    *moyasar.Client
	Orders     *order.Repository
	Deliveries *delivery.Repository
	Settings   *settings.Service
	Catalog    *catalog.Repository
	Activity   *activitylog.Service
	Node       *snowflake.Node
	Clock      clock.Clock
	Limiter    Limiter
}

type Server struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	subs       subdomain.Service
	fulfill    fulfillment.Service
	payments   paymentdomain.Service
	moyasar    *moyasar.Client
	orders     *order.Repository
	deliveries *delivery.Repository
	settings   *settings.Service
	catalog    *catalog.Repository
	activity   *activitylog.Service
	node       *snowflake.Node
	clock      clock.Clock
	limiter    Limiter
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		subs:       p.Subs,
		fulfill:    p.Fulfill,
		payments:   p.Payments,
		moyasar:    p.Moyasar,
		orders:     p.Orders,
		deliveries: p.Deliveries,
		settings:   p.Settings,
		catalog:    p.Catalog,
		activity:   p.Activity,
		node:       p.Node,
		clock:      p.Clock,
		limiter:    p.Limiter,
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	return engine
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Health)
	r.GET("/metrics", metrics.Handler())
	r.POST("/webhooks/moyasar", s.RateLimit("webhook", 120), s.MoyasarWebhook)

	api := r.Group("/api")
	{
		api.GET("/plans", s.ListPlans)
		api.GET("/meals", s.ListMeals)
		api.GET("/addons", s.ListAddons)
		api.GET("/salad-ingredients", s.ListIngredients)
		api.GET("/settings", s.PublicSettings)

		api.POST("/subscriptions/preview", s.PreviewSubscription)
		api.POST("/subscriptions/checkout", s.RateLimit("checkout", 10), s.CheckoutSubscription)
		api.GET("/subscriptions/:id", s.GetSubscription)
		api.GET("/subscriptions/:id/days", s.ListSubscriptionDays)
		api.GET("/subscriptions/:id/today", s.GetTodayDay)
		api.PUT("/subscriptions/:id/delivery", s.UpdateDeliveryDetails)

		api.GET("/subscriptions/:id/days/:date", s.GetSubscriptionDay)
		api.POST("/subscriptions/:id/days/:date/skip", s.SkipDay)
		api.POST("/subscriptions/:id/skips", s.SkipRange)
		api.PUT("/subscriptions/:id/days/:date/selections", s.UpdateDaySelections)
		api.PUT("/subscriptions/:id/days/:date/custom-salad", s.AttachCustomSalad)
		api.PUT("/subscriptions/:id/days/:date/delivery", s.UpdateDayDelivery)
		api.POST("/subscriptions/:id/days/:date/pickup", s.PreparePickup)

		api.POST("/subscriptions/:id/topup", s.CreateTopupInvoice)
		api.POST("/subscriptions/:id/days/:date/addons", s.CreateAddonInvoice)
		api.POST("/orders", s.CreateOrder)
	}

	kitchen := r.Group("/kitchen", RequireRole(RoleKitchen))
	{
		kitchen.GET("/board", s.KitchenBoard)
		kitchen.POST("/days/:id/transition", s.TransitionDay)
		kitchen.POST("/days/:id/assign", s.AssignMeals)
		kitchen.POST("/days/:id/fulfill", s.FulfillDay)
	}

	courier := r.Group("/courier", RequireRole(RoleCourier, RoleKitchen))
	{
		courier.GET("/deliveries", s.CourierDeliveries)
		courier.POST("/days/:id/delivered", s.FulfillDay)
		courier.POST("/days/:id/cancelled", s.CancelDelivery)
	}

	admin := r.Group("/admin", RequireRole())
	{
		admin.GET("/settings", s.ListSettings)
		admin.PUT("/settings/:key", s.UpdateSetting)
		admin.GET("/activity/:type/:id", s.ListActivity)
	}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP owns the listener lifecycle under fx.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, engine *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine, NewLimiter, NewServer),
	fx.Invoke(func(s *Server, engine *gin.Engine) {
		s.RegisterRoutes(engine)
	}),
	fx.Invoke(RunHTTP),
)
