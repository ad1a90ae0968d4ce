package queue

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/yungbote/studio-ingest/internal/data/repos"
	"github.com/yungbote/studio-ingest/internal/data/repos/testutil"
	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/ingest/ledger"
	"github.com/yungbote/studio-ingest/internal/ingest/reconcile"
	"github.com/yungbote/studio-ingest/internal/ingest/upload"
	"github.com/yungbote/studio-ingest/internal/platform/dbctx"
	"github.com/yungbote/studio-ingest/internal/platform/gcp"
)

// scriptedClassifier answers per image content so each item can get its own result.
type scriptedClassifier struct {
	mu        sync.Mutex
	byContent map[string]media.ClassificationResult
	fallback  media.ClassificationResult
}

func (s *scriptedClassifier) Classify(ctx context.Context, img []byte, mime string) (*media.ClassificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.byContent[string(img)]
	if !ok {
		res = s.fallback
	}
	return &res, nil
}

func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, 2))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func pipeline(t *testing.T, cls *scriptedClassifier) (*Manager, repos.Repos) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	bucket := gcp.NewMemoryBucketService()
	up, err := upload.New(log, bucket, upload.Options{})
	if err != nil {
		t.Fatalf("upload.New: %v", err)
	}
	led, err := ledger.New(log, db, r.StoredAssets, r.IdentitySlots)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	coord, err := reconcile.New(log, reconcile.Config{Folder: "refs", Roster: media.DefaultRoster(), VisualBible: true},
		reconcile.Deps{Classifier: cls, Uploader: up, Bucket: bucket, Assets: r.StoredAssets, Ledger: led})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	return startManager(t, coord, testConfig()), r
}

func TestUnknownAgentItemCompletesWithDefault(t *testing.T) {
	imgs := [][]byte{pngOfWidth(t, 3), pngOfWidth(t, 300), pngOfWidth(t, 30)}
	cls := &scriptedClassifier{
		byContent: map[string]media.ClassificationResult{
			string(imgs[1]): {Agent: media.UnknownAgent, Slot: 5, Confidence: 0.1},
		},
		fallback: media.ClassificationResult{Agent: "marrow", Confidence: 0.9, SuggestedName: "street"},
	}
	m, r := pipeline(t, cls)

	items := make([]*media.IngestItem, len(imgs))
	for i, data := range imgs {
		items[i] = &media.IngestItem{ID: []string{"a", "b", "c"}[i], Payload: media.Payload{Data: data, Kind: media.KindImage, MimeType: "image/png"}}
	}
	b, err := m.SubmitBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)
	if snap.Metrics.Complete != 3 {
		t.Fatalf("all items should complete: %+v", snap.Items)
	}
	low := itemByID(t, snap, "b")
	if low.Agent != "vesper" || low.Slot != 5 {
		t.Fatalf("low-confidence unknown item should use the default agent: %+v", low)
	}
	occ, err := r.StoredAssets.GetByIdentity(dbctx.Context{Ctx: context.Background()}, "vesper", 5)
	if err != nil || occ == nil || occ.PublicID != low.PublicID {
		t.Fatalf("catalog occupant: %+v %v", occ, err)
	}
}

func TestSameSlotItemsLeaveOneOccupant(t *testing.T) {
	cls := &scriptedClassifier{fallback: media.ClassificationResult{Agent: "kestrel", Slot: 3, SuggestedName: "profile", Confidence: 0.8}}
	m, r := pipeline(t, cls)

	items := []*media.IngestItem{
		{ID: "one", Payload: media.Payload{Data: pngOfWidth(t, 5), Kind: media.KindImage, MimeType: "image/png"}},
		{ID: "two", Payload: media.Payload{Data: pngOfWidth(t, 6), Kind: media.KindImage, MimeType: "image/png"}},
	}
	b, err := m.SubmitBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)
	if snap.Metrics.Complete != 2 {
		t.Fatalf("both items should complete: %+v", snap.Items)
	}

	anchored := 0
	for _, it := range snap.Items {
		row, err := r.StoredAssets.GetByPublicID(dbctx.Context{Ctx: context.Background()}, it.PublicID)
		if err != nil || row == nil {
			t.Fatalf("row for %s: %v", it.ID, err)
		}
		if row.HasIdentity() {
			anchored++
		}
	}
	if anchored != 1 {
		t.Fatalf("want exactly one occupant of (kestrel, 3), got %d", anchored)
	}
	slot, err := r.IdentitySlots.Get(dbctx.Context{Ctx: context.Background()}, "kestrel", 3)
	if err != nil || slot == nil {
		t.Fatalf("ledger row missing: %v", err)
	}
}
