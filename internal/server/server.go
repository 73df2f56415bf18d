// Package server exposes the billing core over HTTP. Handlers stay thin:
// bind, resolve the acting user, call a service, map the error.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/netvora/billing/internal/catalog/network"
	"github.com/netvora/billing/internal/catalog/plan"
	"github.com/netvora/billing/internal/config"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	paymentservice "github.com/netvora/billing/internal/payment/service"
	"github.com/netvora/billing/internal/providers/pdf"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg             config.Config
	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      *paymentservice.Service
	Plans           *plan.Store
	Subnets         *network.Store
	PDF             *pdf.Renderer
}

type Server struct {
	cfg             config.Config
	log             *zap.Logger
	engine          *gin.Engine
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      *paymentservice.Service
	plans           *plan.Store
	subnets         *network.Store
	pdf             *pdf.Renderer
}

func NewServer(p Params) *Server {
	if p.Cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ErrorHandlingMiddleware())

	s := &Server{
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		engine:          engine,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		plans:           p.Plans,
		subnets:         p.Subnets,
		pdf:             p.PDF,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/plans/:id/subscribe", s.SubscribeToPlan)
		v1.POST("/subnets/subscribe", s.SubscribeToSubnet)
		v1.GET("/subscriptions", s.ListSubscriptions)
		v1.GET("/invoices", s.ListInvoices)
		v1.POST("/invoices/:ulid/payments", s.SettleInvoice)
		v1.GET("/invoices/:ulid/pdf", s.GetInvoicePDF)
	}
}

// actingUser resolves the caller from the X-User-ID header. Session and
// token auth live at the gateway in front of this service.
func actingUser(c *gin.Context) (snowflake.ID, error) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, ErrUnauthorized
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, ErrUnauthorized
	}
	return id, nil
}

func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)
