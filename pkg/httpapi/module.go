package httpapi

import (
	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/health"
	"updater-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
)

type Params struct {
	fx.In
	Config *config.Config
	Health health.HealthService
	Tracer trace.TracerProvider
}

// NewEngine builds the gin engine shared by every route group. Probes and
// metrics sit outside /api.
func NewEngine(p Params) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Trace(p.Tracer), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
