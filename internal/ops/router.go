package ops

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/steward/internal/cache"
	"github.com/geocoder89/steward/internal/observability"
)

// RouterDeps carries everything the ops API serves from. main wires concrete
// repos; tests wire fakes.
type RouterDeps struct {
	Log         *slog.Logger
	Env         string
	JWT         TokenVerifier
	Prom        *observability.Prom
	Registry    *prometheus.Registry
	Intake      IntakeWriter
	Projections ProjectionReader
	Streams     StreamReader
	Republisher StreamRepublisher
	Cache       *cache.Cache
	Clock       clockwork.Clock
	Pings       map[string]PingFunc
	CORSOrigins []string
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("steward-ops"))
	r.Use(RequestID())
	r.Use(RequestLogger(d.Log))
	r.Use(SecurityHeaders())

	if len(d.CORSOrigins) > 0 {
		r.Use(CORSMiddleware(d.CORSOrigins))
	}

	r.Use(MaxBodyBytes(1 << 20))
	r.Use(RequireJSON())

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health + metrics stay unauthenticated: probes and scrapers carry no
	// bearer tokens.
	health := NewHealthHandler(d.Pings)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	// wire up handlers
	intakeHandler := NewIntakeHandler(d.Intake)
	requestsHandler := NewRequestsHandler(d.Projections, d.Streams, d.Republisher, d.Cache, d.Clock)

	authmw := NewAuthMiddleware(d.JWT)
	limiter := NewRateLimiter(120, time.Minute)

	admin := r.Group("/admin", authmw.RequireOps(), limiter.Middleware(KeyBySubjectOrIP))

	admin.POST("/intake", intakeHandler.Seed)
	admin.GET("/intake/:partitionKey/:rowKey", intakeHandler.Get)

	admin.GET("/requests", requestsHandler.List)
	admin.GET("/requests/:id", requestsHandler.GetByID)
	admin.POST("/requests/:id/republish", requestsHandler.Republish)

	return r
}
