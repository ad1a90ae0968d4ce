package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/ingest/reconcile"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type fakeReconciler struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	calls       []string
	delay       time.Duration
	fn          func(item *media.IngestItem) (*media.StoredAsset, error)
}

func (f *fakeReconciler) Reconcile(ctx context.Context, item *media.IngestItem, obs reconcile.Observer) (*media.StoredAsset, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.calls = append(f.calls, item.ID)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	obs.Uploaded(item.Size())
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	obs.Reconciling()
	if f.fn != nil {
		return f.fn(item)
	}
	return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
}

func (f *fakeReconciler) max() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []realtime.SSEMessage
}

func (s *recordingSink) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) count(ev realtime.SSEEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Event == ev {
			n++
		}
	}
	return n
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testConfig() Config {
	return Config{
		PoolSize:    3,
		Cooldown:    0,
		Backoff:     0,
		MetricsTick: 10 * time.Millisecond,
		PruneDelay:  time.Minute,
		Retention:   time.Minute,
		LogSize:     100,
	}
}

func startManager(t *testing.T, rec Reconciler, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(testLogger(t), rec, media.DefaultRoster(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	return m
}

func makeItems(n int, prefix string) []*media.IngestItem {
	out := make([]*media.IngestItem, n)
	for i := range out {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out[i] = &media.IngestItem{
			ID:      id,
			Payload: media.Payload{Data: make([]byte, 100+i), Kind: media.KindImage, MimeType: "image/png", FileName: id + ".png"},
		}
	}
	return out
}

func waitBatch(t *testing.T, b *Batch) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("batch did not finish: %v", err)
	}
	return b.Snapshot()
}

func itemByID(t *testing.T, snap Snapshot, id string) ItemSnapshot {
	t.Helper()
	for _, it := range snap.Items {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("item %s not in snapshot", id)
	return ItemSnapshot{}
}

func TestSubmitBatchValidation(t *testing.T) {
	m := startManager(t, &fakeReconciler{}, testConfig())
	ctx := context.Background()

	var ve *media.ValidationError
	if _, err := m.SubmitBatch(ctx, nil); !errors.As(err, &ve) {
		t.Fatalf("empty batch: want ValidationError, got %v", err)
	}
	if _, err := m.SubmitBatch(ctx, makeItems(MaxBatchSize+1, "big")); !errors.As(err, &ve) {
		t.Fatalf("oversized batch: want ValidationError, got %v", err)
	}
	dup := makeItems(2, "dup")
	dup[1].ID = dup[0].ID
	if _, err := m.SubmitBatch(ctx, dup); !errors.As(err, &ve) {
		t.Fatalf("duplicate ids: want ValidationError, got %v", err)
	}

	unstarted, err := NewManager(testLogger(t), &fakeReconciler{}, media.DefaultRoster(), testConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := unstarted.SubmitBatch(ctx, makeItems(1, "x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}
}

func TestInvalidOverrideFailsOnlyThatItem(t *testing.T) {
	rec := &fakeReconciler{}
	m := startManager(t, rec, testConfig())
	items := makeItems(3, "ov")
	bad := 15
	items[1].OverrideSlot = &bad
	stranger := "stranger"
	items[2].OverrideAgent = &stranger

	b, err := m.SubmitBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)

	if got := itemByID(t, snap, "ov-0"); got.State != media.StateComplete {
		t.Fatalf("valid item: %+v", got)
	}
	for _, id := range []string{"ov-1", "ov-2"} {
		got := itemByID(t, snap, id)
		if got.State != media.StateFailed || got.FailureClass != string(media.FailureValidation) {
			t.Fatalf("%s should fail validation: %+v", id, got)
		}
	}
	if len(rec.calls) != 1 {
		t.Fatalf("rejected items must never reach the pool: %v", rec.calls)
	}
}

func TestPoolBound(t *testing.T) {
	for _, n := range []int{2, 3, 9} {
		t.Run(fmt.Sprintf("items=%d", n), func(t *testing.T) {
			rec := &fakeReconciler{delay: 30 * time.Millisecond}
			m := startManager(t, rec, testConfig())
			b, err := m.SubmitBatch(context.Background(), makeItems(n, "pool"))
			if err != nil {
				t.Fatalf("SubmitBatch: %v", err)
			}
			snap := waitBatch(t, b)
			if rec.max() > 3 {
				t.Fatalf("pool exceeded: %d in flight", rec.max())
			}
			if snap.Metrics.Complete != n {
				t.Fatalf("want %d complete, got %+v", n, snap.Metrics)
			}
		})
	}
}

func TestCooldownBetweenDispatches(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 40 * time.Millisecond
	m := startManager(t, &fakeReconciler{}, cfg)

	b, err := m.SubmitBatch(context.Background(), makeItems(4, "cool"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)

	var times []time.Time
	for _, it := range snap.Items {
		if it.DispatchedAt == nil {
			t.Fatalf("item %s never dispatched", it.ID)
		}
		times = append(times, *it.DispatchedAt)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < cfg.Cooldown {
			t.Fatalf("dispatch %d followed the previous one after %s, want >= %s", i, gap, cfg.Cooldown)
		}
	}
	if first := times[0].Sub(snap.StartedAt); first >= cfg.Cooldown {
		t.Fatalf("first dispatch should not wait for the cooldown, waited %s", first)
	}
}

func TestRateLimitedFailureDelaysNextDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.PoolSize = 1
	cfg.Backoff = 150 * time.Millisecond
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		if item.ID == "rl-0" {
			return nil, &media.ReconciliationError{ItemID: item.ID, Stage: media.StageUpload,
				Err: &media.UploadError{Message: "HTTP 429"}}
		}
		return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
	}}
	m := startManager(t, rec, cfg)

	b, err := m.SubmitBatch(context.Background(), makeItems(2, "rl"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)

	failed := itemByID(t, snap, "rl-0")
	if failed.State != media.StateFailed || failed.FailureClass != string(media.FailureRateLimited) {
		t.Fatalf("first item: %+v", failed)
	}
	next := itemByID(t, snap, "rl-1")
	if next.State != media.StateComplete || next.DispatchedAt == nil {
		t.Fatalf("second item: %+v", next)
	}
	if gap := next.DispatchedAt.Sub(*failed.FinishedAt); gap < cfg.Backoff {
		t.Fatalf("next dispatch after %s, want >= %s", gap, cfg.Backoff)
	}
	paused := false
	for _, l := range snap.Log {
		if l.Kind == LogRateLimitPause && l.ItemID == "rl-1" {
			paused = true
		}
	}
	if !paused {
		t.Fatalf("pause not logged: %+v", snap.Log)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("failed item must not be retried: %v", rec.calls)
	}
}

func TestOtherFailuresDoNotBackOff(t *testing.T) {
	cfg := testConfig()
	cfg.PoolSize = 1
	cfg.Backoff = time.Second
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		if item.ID == "ob-0" {
			return nil, errors.New("bucket unreachable")
		}
		return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
	}}
	m := startManager(t, rec, cfg)

	b, err := m.SubmitBatch(context.Background(), makeItems(2, "ob"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)
	failed, next := itemByID(t, snap, "ob-0"), itemByID(t, snap, "ob-1")
	if failed.FailureClass != string(media.FailureOther) {
		t.Fatalf("class: %s", failed.FailureClass)
	}
	if gap := next.DispatchedAt.Sub(*failed.FinishedAt); gap >= cfg.Backoff {
		t.Fatalf("non-throttle failure delayed the next dispatch by %s", gap)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		if strings.HasSuffix(item.ID, "1") {
			return nil, errors.New("boom")
		}
		return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
	}}
	m := startManager(t, rec, testConfig())
	b, err := m.SubmitBatch(context.Background(), makeItems(3, "term"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	events, cancel := b.Subscribe()
	defer cancel()

	terminal := map[string]media.ItemState{}
	for ev := range events {
		if ev.Type != EventItemUpdated {
			continue
		}
		if prev, ok := terminal[ev.Item.ID]; ok {
			t.Fatalf("item %s changed after %s to %s", ev.Item.ID, prev, ev.Item.State)
		}
		if ev.Item.State.Terminal() {
			terminal[ev.Item.ID] = ev.Item.State
		}
	}
	snap := waitBatch(t, b)
	if snap.Metrics.Complete+snap.Metrics.Failed != 3 || snap.Metrics.Failed != 1 {
		t.Fatalf("metrics: %+v", snap.Metrics)
	}

	// Stale or forged tokens cannot move a finished item.
	b.mu.Lock()
	token := b.items["term-0"].token
	b.mu.Unlock()
	if b.fail("term-0", token, errors.New("late"), media.FailureOther, time.Now()) {
		t.Fatalf("complete item was failed afterwards")
	}
	if b.complete("term-1", "forged", nil) {
		t.Fatalf("forged token completed an item")
	}
	if got := itemByID(t, b.Snapshot(), "term-1"); got.State != media.StateFailed {
		t.Fatalf("failed item changed: %+v", got)
	}
}

func TestMetricsDropFailedBytes(t *testing.T) {
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		if item.ID == "mx-0" {
			return nil, errors.New("rename refused")
		}
		return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
	}}
	m := startManager(t, rec, testConfig())
	items := makeItems(2, "mx")
	b, err := m.SubmitBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)
	if snap.Metrics.BytesExpected != items[0].Size()+items[1].Size() {
		t.Fatalf("bytes expected: %+v", snap.Metrics)
	}
	if snap.Metrics.BytesTransferred != items[1].Size() {
		t.Fatalf("bytes transferred should only count the stored item: %+v", snap.Metrics)
	}
	if itemByID(t, snap, "mx-0").BytesTransferred != 0 {
		t.Fatalf("failed item keeps transferred bytes")
	}
}

func TestCompletedItemsArePruned(t *testing.T) {
	cfg := testConfig()
	cfg.PruneDelay = 20 * time.Millisecond
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		if item.ID == "pr-1" {
			return nil, errors.New("boom")
		}
		return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
	}}
	m := startManager(t, rec, cfg)
	b, err := m.SubmitBatch(context.Background(), makeItems(2, "pr"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	waitBatch(t, b)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := b.Snapshot()
		if len(snap.Items) == 1 {
			if snap.Items[0].ID != "pr-1" || snap.Items[0].State != media.StateFailed {
				t.Fatalf("failed item should be retained: %+v", snap.Items)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed item never pruned: %+v", snap.Items)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		panic("nil map")
	}}
	m := startManager(t, rec, testConfig())
	b, err := m.SubmitBatch(context.Background(), makeItems(1, "pa"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)
	if got := itemByID(t, snap, "pa-0"); got.State != media.StateFailed || !strings.Contains(got.Error, "nil map") {
		t.Fatalf("panic not recorded: %+v", got)
	}
}

func TestLogAndSinkEvents(t *testing.T) {
	sink := &recordingSink{}
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		agent, slot := "kestrel", 4
		return &media.StoredAsset{PublicID: "refs/" + item.ID, IdentityAgent: &agent, IdentitySlot: &slot}, nil
	}}
	m := startManager(t, rec, testConfig(), WithSink(sink))
	b, err := m.SubmitBatch(context.Background(), makeItems(1, "lg"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	snap := waitBatch(t, b)

	kinds := []string{}
	for _, l := range snap.Log {
		kinds = append(kinds, string(l.Kind))
	}
	if strings.Join(kinds, ",") != "scan_start,upload_start,success" {
		t.Fatalf("log kinds: %v", kinds)
	}
	if last := snap.Log[len(snap.Log)-1]; !strings.Contains(last.Message, "kestrel slot 4") {
		t.Fatalf("success line should name the slot: %q", last.Message)
	}
	if got := itemByID(t, snap, "lg-0"); got.Agent != "kestrel" || got.Slot != 4 || got.Progress != 100 {
		t.Fatalf("item: %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count(realtime.SSEEventBatchDone) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sink never saw the done event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count(realtime.SSEEventItemUpdated) == 0 || sink.count(realtime.SSEEventBatchLog) != 3 {
		t.Fatalf("sink events missing")
	}
}

func TestSubscribeAfterDone(t *testing.T) {
	m := startManager(t, &fakeReconciler{}, testConfig())
	b, err := m.SubmitBatch(context.Background(), makeItems(1, "late"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	waitBatch(t, b)
	events, _ := b.Subscribe()
	var types []EventType
	for ev := range events {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != EventSnapshot || types[1] != EventDone {
		t.Fatalf("late subscriber stream: %v", types)
	}
	if got, ok := m.Batch(b.ID); !ok || got != b {
		t.Fatalf("finished batch should stay queryable during retention")
	}
}

func TestLogRingKeepsNewest(t *testing.T) {
	r := newLogRing(3)
	for i := 0; i < 5; i++ {
		r.add(LogLine{Message: fmt.Sprint(i)})
	}
	var got []string
	for _, l := range r.list() {
		got = append(got, l.Message)
	}
	if strings.Join(got, ",") != "2,3,4" {
		t.Fatalf("ring: %v", got)
	}
}

func TestDrainFinishesInFlightAndFailsPending(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rec := &fakeReconciler{fn: func(item *media.IngestItem) (*media.StoredAsset, error) {
		started <- struct{}{}
		<-release
		return &media.StoredAsset{PublicID: "refs/" + item.ID}, nil
	}}
	cfg := testConfig()
	cfg.PoolSize = 1
	m := startManager(t, rec, cfg)

	b, err := m.SubmitBatch(context.Background(), makeItems(3, "drain"))
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first item never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	drained := make(chan error, 1)
	go func() { drained <- m.Drain(ctx) }()

	select {
	case err := <-drained:
		t.Fatalf("Drain returned before the in-flight item finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-drained; err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	states := map[string]ItemSnapshot{}
	for _, it := range b.Snapshot().Items {
		states[it.ID] = it
	}
	if states["drain-0"].State != media.StateComplete {
		t.Fatalf("in-flight item: %+v", states["drain-0"])
	}
	for _, id := range []string{"drain-1", "drain-2"} {
		st := states[id]
		if st.State != media.StateFailed || !strings.Contains(st.Error, "shutting down") {
			t.Fatalf("pending item %s: %+v", id, st)
		}
	}
	if _, err := m.SubmitBatch(context.Background(), makeItems(1, "late")); !errors.Is(err, ErrDraining) {
		t.Fatalf("SubmitBatch after drain: want ErrDraining got=%v", err)
	}
}
