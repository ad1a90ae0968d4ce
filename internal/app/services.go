package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/data/repos"
	"github.com/yungbote/studio-ingest/internal/ingest/classify"
	"github.com/yungbote/studio-ingest/internal/ingest/ledger"
	"github.com/yungbote/studio-ingest/internal/ingest/queue"
	"github.com/yungbote/studio-ingest/internal/ingest/reconcile"
	"github.com/yungbote/studio-ingest/internal/ingest/upload"
	"github.com/yungbote/studio-ingest/internal/observability"
	"github.com/yungbote/studio-ingest/internal/platform/localmedia"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type Services struct {
	Classifier classify.Classifier
	Uploader   *upload.Service
	Ledger     *ledger.Ledger
	Reconciler *reconcile.Coordinator
	Queue      *queue.Manager
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, rp repos.Repos, clients Clients, hub *realtime.SSEHub, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	classifier, err := classify.New(log, clients.OpenAI, cfg.Roster, classify.Options{Labels: clients.Labels, MaxLabels: cfg.MaxTags / 2})
	if err != nil {
		return Services{}, fmt.Errorf("init classifier: %w", err)
	}

	uploader, err := upload.New(log, clients.Bucket, upload.Options{
		Media: clients.Media,
		Loop:  localmedia.LoopOptions{Width: 720, CRF: 28, MaxSeconds: 8},
	})
	if err != nil {
		return Services{}, fmt.Errorf("init uploader: %w", err)
	}

	slots, err := ledger.New(log, db, rp.StoredAssets, rp.IdentitySlots)
	if err != nil {
		return Services{}, fmt.Errorf("init ledger: %w", err)
	}

	coordinator, err := reconcile.New(log, reconcile.Config{
		Folder:          cfg.Folder,
		Roster:          cfg.Roster,
		VisualBible:     cfg.VisualBible,
		MaxTags:         cfg.MaxTags,
		ClassifyTimeout: cfg.ClassifyTimeout,
		UploadTimeout:   cfg.UploadTimeout,
		StepTimeout:     cfg.StepTimeout,
		Thumbnail:       localmedia.ThumbnailOptions{Width: 768},
	}, reconcile.Deps{
		Classifier: classifier,
		Uploader:   uploader,
		Bucket:     clients.Bucket,
		Assets:     rp.StoredAssets,
		Ledger:     slots,
		Media:      clients.Media,
		Metrics:    metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init reconcile coordinator: %w", err)
	}

	// Events go through the redis bus when configured so every instance's hub sees them.
	var sink queue.Sink = hub
	if clients.Bus != nil {
		sink = clients.Bus
	}
	q, err := queue.NewManager(log, coordinator, cfg.Roster, queue.ConfigFromEnv(),
		queue.WithSink(sink),
		queue.WithMetrics(metrics),
	)
	if err != nil {
		return Services{}, fmt.Errorf("init ingest queue: %w", err)
	}

	return Services{
		Classifier: classifier,
		Uploader:   uploader,
		Ledger:     slots,
		Reconciler: coordinator,
		Queue:      q,
	}, nil
}

// Drain waits for in-flight items and background loop uploads.
func (s Services) Drain(ctx context.Context) error {
	var firstErr error
	if s.Queue != nil {
		if err := s.Queue.Drain(ctx); err != nil {
			firstErr = err
		}
	}
	if s.Uploader != nil {
		if err := s.Uploader.Drain(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
