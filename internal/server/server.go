// Package server exposes the operational HTTP endpoints: liveness, readiness
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creditmeter/internal/config"
	obslogger "github.com/smallbiznis/creditmeter/internal/observability/logger"
	"github.com/smallbiznis/creditmeter/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ops.server",
	fx.Provide(NewRegistry),
	fx.Provide(provideRegisterer),
	fx.Provide(telemetry.NewMetrics),
	fx.Provide(NewEngine),
	fx.Invoke(run),
)

const readyTimeout = 2 * time.Second

var ErrServiceUnavailable = errors.New("service_unavailable")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// NewRegistry holds the domain collectors. The gorm prometheus plugin
// registers on the default registry, so /metrics gathers from both.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	return reg
}

func provideRegisterer(reg *prometheus.Registry) prometheus.Registerer {
	return reg
}

type EngineParams struct {
	fx.In

	DB       *gorm.DB
	Registry *prometheus.Registry
}

func NewEngine(p EngineParams) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readyHandler(p.DB))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.Gatherers{p.Registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)))

	return r
}

func readyHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		if err := ping(ctx, db); err != nil {
			obslogger.FromContext(ctx).Warn("readiness check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
				Error: errorPayload{Type: ErrServiceUnavailable.Error(), Message: "database unavailable"},
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("database not configured")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	log = log.Named("ops.server")
	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server stopped", zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", cfg.OpsAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
