package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/data/repos"
	apphttp "github.com/yungbote/studio-ingest/internal/http"
	httpH "github.com/yungbote/studio-ingest/internal/http/handlers"
	"github.com/yungbote/studio-ingest/internal/observability"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Ingest   *httpH.IngestHandler
	Asset    *httpH.AssetHandler
	Identity *httpH.IdentityHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, rp repos.Repos, services Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Ingest:   httpH.NewIngestHandler(log, services.Queue, hub, cfg.MaxFileBytes),
		Asset:    httpH.NewAssetHandler(log, rp.StoredAssets),
		Identity: httpH.NewIdentityHandler(log, services.Ledger, cfg.Roster),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:             log,
		ServiceName:     serviceName,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         metrics,
		IngestHandler:   handlers.Ingest,
		AssetHandler:    handlers.Asset,
		IdentityHandler: handlers.Identity,
		HealthHandler:   handlers.Health,
	})
}
