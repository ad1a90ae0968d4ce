package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/data/db"
	"github.com/yungbote/studio-ingest/internal/data/repos"
	apphttp "github.com/yungbote/studio-ingest/internal/http"
	"github.com/yungbote/studio-ingest/internal/observability"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
	"github.com/yungbote/studio-ingest/internal/realtime/bus"
)

const serviceName = "studio-ingest"

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *apphttp.Server
	Cfg      Config
	Repos    repos.Repos
	Clients  Clients
	Services Services
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics

	dbService    *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	dbService, err := db.NewService(log, db.ConfigFromEnv())
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	theDB := dbService.DB()

	ssehub := realtime.NewSSEHub(log)
	reposet := wireRepos(theDB, log)

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, ssehub, metrics)
	if err != nil {
		clients.Close()
		_ = dbService.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, theDB, cfg, reposet, serviceset, ssehub)
	server := wireServer(log, cfg, handlerset, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       server,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		SSEHub:       ssehub,
		Metrics:      metrics,
		dbService:    dbService,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the queue dispatcher, the bus forwarder and metrics collectors.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start event forwarder: %w", err)
		}
		a.Metrics.StartRedisCollector(ctx, a.Log, bus.Client(a.Clients.Bus))
	}
	a.Metrics.StartCatalogCollector(ctx, a.Log, a.DB, "stored_asset", "identity_slot")

	if a.Clients.Media != nil {
		if err := a.Clients.Media.AssertReady(ctx); err != nil {
			a.Log.Warn("ffmpeg unavailable; videos need a client thumbnail and get no loop", "error", err)
		}
	}

	a.Services.Queue.Start(ctx)
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.Addr)
	return a.Server.Run(a.Cfg.Addr)
}

// Shutdown lets in-flight items finish so open batch streams see their done
// event, then stops the HTTP server. Whatever is left when ctx ends is cancelled.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if err := a.Services.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain ingest: %w", err))
	}
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.Close()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.dbService != nil {
		_ = a.dbService.Close()
		a.dbService = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
