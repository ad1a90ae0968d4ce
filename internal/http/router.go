package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/studio-ingest/internal/http/handlers"
	httpMW "github.com/yungbote/studio-ingest/internal/http/middleware"
	"github.com/yungbote/studio-ingest/internal/observability"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	IngestHandler   *httpH.IngestHandler
	AssetHandler    *httpH.AssetHandler
	IdentityHandler *httpH.IdentityHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", func(c *gin.Context) { cfg.Metrics.WriteHTTP(c.Writer, c.Request) })
	}

	api := r.Group("/api")
	{
		// Ingest
		if cfg.IngestHandler != nil {
			api.POST("/ingest/batches", cfg.IngestHandler.SubmitBatch)
			api.GET("/ingest/batches/:id", cfg.IngestHandler.GetBatch)
			api.GET("/ingest/batches/:id/events", cfg.IngestHandler.BatchEvents)
		}

		// Catalog
		if cfg.AssetHandler != nil {
			api.GET("/assets/*publicId", cfg.AssetHandler.GetAsset)
		}

		// Identity slots
		if cfg.IdentityHandler != nil {
			api.GET("/identity/:agent", cfg.IdentityHandler.ListSlots)
			api.PUT("/identity/:agent/:slot", cfg.IdentityHandler.Assign)
			api.DELETE("/identity/:agent/:slot", cfg.IdentityHandler.Release)
		}
	}

	return r
}
