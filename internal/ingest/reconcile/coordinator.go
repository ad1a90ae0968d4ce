package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/studio-ingest/internal/data/repos"
	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/ingest/classify"
	"github.com/yungbote/studio-ingest/internal/ingest/ledger"
	"github.com/yungbote/studio-ingest/internal/ingest/upload"
	"github.com/yungbote/studio-ingest/internal/observability"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/localmedia"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

// Observer hears about the two mid-flight milestones of one item.
type Observer interface {
	Uploaded(bytes int64)
	Reconciling()
}

type NopObserver struct{}

func (NopObserver) Uploaded(int64) {}
func (NopObserver) Reconciling()   {}

type SlotLedger interface {
	Assign(ctx context.Context, agent string, slot int, publicID string) (*ledger.Assignment, error)
}

type Config struct {
	Folder          string
	Roster          media.Roster
	VisualBible     bool
	MaxTags         int
	ClassifyTimeout time.Duration
	UploadTimeout   time.Duration
	StepTimeout     time.Duration
	Thumbnail       localmedia.ThumbnailOptions
}

type Deps struct {
	Classifier classify.Classifier
	Uploader   upload.Uploader
	Bucket     gcp.BucketService
	Assets     repos.StoredAssetRepo
	Ledger     SlotLedger
	// Media derives a still frame for videos submitted without a thumbnail. Optional.
	Media   localmedia.Tools
	Metrics *observability.Metrics
}

type Coordinator struct {
	log  *logger.Logger
	cfg  Config
	deps Deps
	now  func() time.Time
}

func New(log *logger.Logger, cfg Config, deps Deps) (*Coordinator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Classifier == nil || deps.Uploader == nil || deps.Bucket == nil || deps.Assets == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("reconcile: missing dependency")
	}
	if err := cfg.Roster.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 8
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 60 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 120 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	return &Coordinator{
		log:  log.With("service", "ReconcileCoordinator"),
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}, nil
}

// Reconcile classifies and uploads item concurrently, then promotes the
// provisional object to its final key, retags it, upserts the catalog row and
// anchors the identity slot. Every failure is a *media.ReconciliationError.
func (c *Coordinator) Reconcile(ctx context.Context, item *media.IngestItem, obs Observer) (_ *media.StoredAsset, err error) {
	if obs == nil {
		obs = NopObserver{}
	}
	ctx, span := observability.StartSpan(ctx, "ingest.reconcile",
		attribute.String("item.id", item.ID),
		attribute.String("item.kind", string(item.Payload.Kind)),
		attribute.Int64("item.bytes", item.Size()),
	)
	defer func() { observability.EndSpan(span, err) }()

	provisionalKey := upload.NewProvisionalKey(c.cfg.Folder, c.now())
	fail := func(stage media.Stage, cause error) error {
		return &media.ReconciliationError{ItemID: item.ID, Stage: stage, ProvisionalKey: provisionalKey, Err: cause}
	}

	var (
		class       *media.ClassificationResult
		up          *media.ProvisionalUpload
		classifyErr error
		uploadErr   error
	)
	// Join: both calls run to completion, neither cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		class, classifyErr = c.classify(ctx, item)
		return nil
	})
	g.Go(func() error {
		up, uploadErr = c.upload(ctx, item, provisionalKey)
		if uploadErr == nil {
			obs.Uploaded(up.ByteSize)
		}
		return nil
	})
	_ = g.Wait()

	switch {
	case classifyErr != nil && uploadErr != nil:
		return nil, fail(media.StageClassify, errors.Join(classifyErr, uploadErr))
	case uploadErr != nil:
		return nil, fail(media.StageUpload, uploadErr)
	case classifyErr != nil:
		c.log.Warn("provisional object left behind", "item_id", item.ID, "key", provisionalKey)
		return nil, fail(media.StageClassify, classifyErr)
	}

	obs.Reconciling()

	agent, slot := c.resolveIdentity(item, class)
	role := class.Role
	if role == "" {
		role = c.cfg.Roster.RoleForSlot(slot)
	}
	finalKey := FinalKey(c.cfg.Folder, BaseName(class.SuggestedName, agent, slot, role), up.Format, c.now())
	category := gcp.CategoryForKind(up.ResourceKind)
	tags := CapTags(class.Tags, c.cfg.MaxTags)

	if err := c.step(ctx, media.StageRename, func(ctx context.Context) error {
		if _, err := c.deps.Bucket.RenameObject(ctx, category, provisionalKey, finalKey); err != nil {
			return upload.StorageError(provisionalKey, err)
		}
		return nil
	}); err != nil {
		return nil, fail(media.StageRename, err)
	}

	if err := c.step(ctx, media.StageRetag, func(ctx context.Context) error {
		if err := c.deps.Bucket.UpdateMetadata(ctx, category, finalKey, objectMetadata(item.ID, agent, slot, role, class.Confidence, tags)); err != nil {
			return upload.StorageError(finalKey, err)
		}
		return nil
	}); err != nil {
		return nil, fail(media.StageRetag, err)
	}

	row := &media.StoredAsset{
		PublicID:      finalKey,
		URL:           c.deps.Bucket.GetPublicURL(category, finalKey),
		ResourceKind:  string(up.ResourceKind),
		Folder:        c.cfg.Folder,
		Format:        up.Format,
		ByteSize:      up.ByteSize,
		Width:         up.Width,
		Height:        up.Height,
		IsVisualBible: c.cfg.VisualBible,
		Role:          role,
		Confidence:    class.Confidence,
		LoopKey:       up.LoopKey,
	}
	row.SetTags(tags)

	var stored *media.StoredAsset
	if err := c.step(ctx, media.StageCatalog, func(ctx context.Context) error {
		var upsertErr error
		stored, upsertErr = c.deps.Assets.Upsert(dbctx.Context{Ctx: ctx}, row)
		return upsertErr
	}); err != nil {
		return nil, fail(media.StageCatalog, err)
	}

	if slot != 0 && agent != media.UnknownAgent {
		if err := c.step(ctx, media.StageLedger, func(ctx context.Context) error {
			if _, err := c.deps.Ledger.Assign(ctx, agent, slot, finalKey); err != nil {
				return err
			}
			a, s := agent, slot
			stored.IdentityAgent, stored.IdentitySlot = &a, &s
			return nil
		}); err != nil {
			return nil, fail(media.StageLedger, err)
		}
	}

	c.log.Info("item reconciled", "item_id", item.ID, "public_id", finalKey, "agent", agent, "slot", slot)
	return stored, nil
}

// resolveIdentity applies overrides, then the classifier, then the roster default.
func (c *Coordinator) resolveIdentity(item *media.IngestItem, class *media.ClassificationResult) (string, int) {
	agent := class.Agent
	if agent == "" || agent == media.UnknownAgent {
		agent, _ = c.cfg.Roster.Canonical(c.cfg.Roster.DefaultAgent)
	}
	if item.OverrideAgent != nil {
		if a, ok := c.cfg.Roster.Canonical(*item.OverrideAgent); ok {
			agent = a
		}
	}
	slot := class.Slot
	if item.OverrideSlot != nil {
		slot = *item.OverrideSlot
	}
	if !media.ValidSlot(slot) {
		slot = 0
	}
	return agent, slot
}

func (c *Coordinator) classify(ctx context.Context, item *media.IngestItem) (res *media.ClassificationResult, err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ClassifyTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "ingest.classify")
	defer func() {
		observability.EndSpan(span, err)
		c.deps.Metrics.ObserveStage(string(media.StageClassify), err, time.Since(start))
	}()

	img, mime := item.Thumbnail, ""
	if len(img) == 0 {
		if item.Payload.Kind == media.KindVideo {
			if img, err = c.deriveFrame(ctx, item); err != nil {
				return nil, err
			}
			mime = "image/jpeg"
		} else {
			img, mime = item.Payload.Data, item.Payload.MimeType
		}
	}
	return c.deps.Classifier.Classify(ctx, img, mime)
}

func (c *Coordinator) deriveFrame(ctx context.Context, item *media.IngestItem) ([]byte, error) {
	if c.deps.Media == nil {
		return nil, &media.ClassificationError{Reason: "video submitted without a thumbnail"}
	}
	frame, err := c.deps.Media.ExtractThumbnail(ctx, item.Payload.Data, videoSuffix(item.Payload), c.cfg.Thumbnail)
	if err != nil {
		return nil, &media.ClassificationError{Reason: "derive video frame", Err: err}
	}
	return frame, nil
}

func (c *Coordinator) upload(ctx context.Context, item *media.IngestItem, key string) (up *media.ProvisionalUpload, err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "ingest.upload", attribute.String("object.key", key))
	defer func() {
		observability.EndSpan(span, err)
		c.deps.Metrics.ObserveStage(string(media.StageUpload), err, time.Since(start))
	}()

	mime := item.Payload.MimeType
	if mime == "" && item.Payload.Kind == media.KindVideo {
		mime = "video/mp4"
	}
	return c.deps.Uploader.UploadProvisional(ctx, item.Payload.Data, mime, key)
}

// step runs one sequential post-join stage under its own timeout.
func (c *Coordinator) step(ctx context.Context, stage media.Stage, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "ingest."+string(stage))
	defer func() {
		observability.EndSpan(span, err)
		c.deps.Metrics.ObserveStage(string(stage), err, time.Since(start))
	}()
	return fn(ctx)
}

func objectMetadata(itemID, agent string, slot int, role string, confidence float64, tags []string) map[string]string {
	md := map[string]string{
		"stage":      "final",
		"item_id":    itemID,
		"agent":      agent,
		"role":       role,
		"confidence": strconv.FormatFloat(confidence, 'f', 2, 64),
		"tags":       strings.Join(tags, ","),
		"slot":       "",
	}
	if slot != 0 {
		md["slot"] = strconv.Itoa(slot)
	}
	return md
}

func videoSuffix(p media.Payload) string {
	if i := strings.LastIndexByte(p.FileName, '.'); i >= 0 && i < len(p.FileName)-1 {
		return strings.ToLower(p.FileName[i:])
	}
	switch strings.ToLower(strings.TrimSpace(p.MimeType)) {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	}
	return ".mp4"
}
