package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/ingest/reconcile"
	"github.com/yungbote/studio-ingest/internal/observability"
	"github.com/yungbote/studio-ingest/internal/platform/httpx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type Reconciler interface {
	Reconcile(ctx context.Context, item *media.IngestItem, obs reconcile.Observer) (*media.StoredAsset, error)
}

// Sink receives every batch event, e.g. the SSE hub or the redis bus.
type Sink interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
}

var (
	ErrNotStarted = errors.New("ingest queue not started")
	ErrDraining   = errors.New("ingest queue is shutting down")
)

type job struct {
	batch  *Batch
	itemID string
}

// Manager runs every submitted item through one fixed-size pool in FIFO order.
type Manager struct {
	log     *logger.Logger
	cfg     Config
	rec     Reconciler
	roster  media.Roster
	metrics *observability.Metrics
	now     func() time.Time

	sinkCh chan realtime.SSEMessage
	sink   Sink

	sem  chan struct{}
	wake chan struct{}

	mu           sync.Mutex
	pending      []job
	batches      map[string]*Batch
	busy         int
	dispatched   bool
	lastDispatch time.Time
	backoffUntil time.Time
	runCtx       context.Context
	stopDispatch context.CancelFunc
	draining     bool

	loopDone chan struct{}
	workers  sync.WaitGroup
}

type Option func(*Manager)

func WithSink(s Sink) Option { return func(m *Manager) { m.sink = s } }

func WithMetrics(mx *observability.Metrics) Option { return func(m *Manager) { m.metrics = mx } }

func NewManager(log *logger.Logger, rec Reconciler, roster media.Roster, cfg Config, opts ...Option) (*Manager, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rec == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		log:      log.With("service", "IngestQueue"),
		cfg:      cfg,
		rec:      rec,
		roster:   roster,
		now:      time.Now,
		sem:      make(chan struct{}, cfg.PoolSize),
		wake:     make(chan struct{}, 1),
		batches:  map[string]*Batch{},
		loopDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.sink != nil {
		m.sinkCh = make(chan realtime.SSEMessage, 1024)
	}
	return m, nil
}

// Start launches the dispatcher. Cancelling ctx stops dispatch and is passed
// to in-flight items so their network calls stop too.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return
	}
	m.runCtx = ctx
	dispatchCtx, stop := context.WithCancel(ctx)
	m.stopDispatch = stop
	m.mu.Unlock()

	m.log.Info("Starting ingest queue", "pool_size", m.cfg.PoolSize, "cooldown", m.cfg.Cooldown, "backoff", m.cfg.Backoff)
	go func() {
		defer close(m.loopDone)
		m.dispatchLoop(ctx, dispatchCtx)
	}()
	if m.sinkCh != nil {
		go m.sinkLoop(ctx)
	}
}

// Drain stops dispatch, fails items that never left the pending queue, then
// waits for in-flight items to settle or ctx to end. In-flight items keep the
// Start context.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	stop := m.stopDispatch
	m.draining = true
	m.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	select {
	case <-m.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.abandonPending()

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch validates items and queues them. Batch-level problems (size,
// duplicate or empty ids) reject the whole call; a bad override only fails
// that item.
func (m *Manager) SubmitBatch(ctx context.Context, items []*media.IngestItem) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	runCtx, draining := m.runCtx, m.draining
	m.mu.Unlock()
	if runCtx == nil {
		return nil, ErrNotStarted
	}
	if draining {
		return nil, ErrDraining
	}
	if len(items) == 0 || len(items) > m.cfg.MaxBatch {
		return nil, &media.ValidationError{Field: "items", Value: len(items), Reason: fmt.Sprintf("batch must hold 1..%d items", m.cfg.MaxBatch)}
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if it == nil || strings.TrimSpace(it.ID) == "" {
			return nil, &media.ValidationError{Field: "id", Value: i, Reason: "every item needs an id"}
		}
		if seen[it.ID] {
			return nil, &media.ValidationError{Field: "id", Value: it.ID, Reason: "duplicate item id"}
		}
		seen[it.ID] = true
	}

	b := newBatch(uuid.NewString(), m, items, m.now())

	m.mu.Lock()
	m.batches[b.ID] = b
	m.mu.Unlock()

	var accepted []job
	for _, it := range items {
		if err := m.validateItem(it); err != nil {
			b.reject(it.ID, err)
			m.metrics.ObserveItem(string(media.StateFailed), string(media.FailureValidation), 0)
			continue
		}
		accepted = append(accepted, job{batch: b, itemID: it.ID})
	}

	m.mu.Lock()
	draining = m.draining
	if !draining {
		m.pending = append(m.pending, accepted...)
	}
	m.mu.Unlock()
	if draining {
		for _, j := range accepted {
			b.reject(j.itemID, ErrDraining)
		}
		return b, nil
	}
	m.signal()

	m.log.Info("batch submitted", "batch_id", b.ID, "items", len(items), "queued", len(accepted))
	if len(accepted) > 0 {
		go m.tick(runCtx, b)
	}
	return b, nil
}

func (m *Manager) validateItem(it *media.IngestItem) error {
	if len(it.Payload.Data) == 0 {
		return &media.ValidationError{Field: "payload", Value: it.ID, Reason: "empty payload"}
	}
	if it.OverrideSlot != nil && !media.ValidSlot(*it.OverrideSlot) {
		return media.NewSlotValidationError(*it.OverrideSlot)
	}
	if it.OverrideAgent != nil {
		if _, ok := m.roster.Canonical(*it.OverrideAgent); !ok {
			return &media.ValidationError{Field: "agent", Value: *it.OverrideAgent, Reason: "not a roster agent"}
		}
	}
	return nil
}

// Batch returns a live or recently finished batch.
func (m *Manager) Batch(id string) (*Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	return b, ok
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop pulls jobs until dispatchCtx ends. Workers run under runCtx
// so stopping dispatch does not cancel items already in the pool.
func (m *Manager) dispatchLoop(runCtx, dispatchCtx context.Context) {
	for {
		j, ok := m.nextJob(dispatchCtx)
		if !ok {
			m.log.Info("Ingest dispatcher stopped")
			return
		}
		select {
		case m.sem <- struct{}{}:
		case <-dispatchCtx.Done():
			m.requeue(j)
			return
		}
		if err := m.awaitGate(dispatchCtx, j); err != nil {
			<-m.sem
			m.requeue(j)
			return
		}
		m.dispatch(runCtx, j)
	}
}

func (m *Manager) abandonPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, j := range pending {
		j.batch.reject(j.itemID, ErrDraining)
		m.metrics.ObserveItem(string(media.StateFailed), string(media.FailureOther), 0)
	}
	if len(pending) > 0 {
		m.log.Warn("abandoned pending items on shutdown", "items", len(pending))
	}
}

func (m *Manager) nextJob(ctx context.Context) (job, bool) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			j := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return j, true
		}
		m.mu.Unlock()
		select {
		case <-m.wake:
		case <-ctx.Done():
			return job{}, false
		}
	}
}

func (m *Manager) requeue(j job) {
	m.mu.Lock()
	m.pending = append([]job{j}, m.pending...)
	m.mu.Unlock()
}

// awaitGate holds the next dispatch until both the cooldown since the previous
// dispatch and any backoff window have passed.
func (m *Manager) awaitGate(ctx context.Context, j job) error {
	announced := false
	for {
		m.mu.Lock()
		var until time.Time
		if m.dispatched {
			until = m.lastDispatch.Add(m.cfg.Cooldown)
		}
		backoff := m.backoffUntil.After(until)
		if backoff {
			until = m.backoffUntil
		}
		m.mu.Unlock()

		wait := until.Sub(m.now())
		if wait <= 0 {
			return nil
		}
		if backoff && !announced {
			announced = true
			j.batch.mu.Lock()
			j.batch.pauseLocked(j.itemID, wait)
			j.batch.mu.Unlock()
			m.log.Warn("dispatch paused after throttled failure", "batch_id", j.batch.ID, "next_item", j.itemID, "wait", wait)
		}
		if err := httpx.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, j job) {
	token := uuid.NewString()
	if !j.batch.claim(j.itemID, token) {
		<-m.sem
		return
	}
	m.mu.Lock()
	m.dispatched = true
	m.lastDispatch = m.now()
	m.busy++
	busy := m.busy
	m.mu.Unlock()
	m.metrics.SetPoolBusy(busy)

	m.workers.Add(1)
	go m.work(ctx, j, token)
}

func (m *Manager) work(ctx context.Context, j job, token string) {
	defer m.workers.Done()
	defer func() {
		m.mu.Lock()
		m.busy--
		busy := m.busy
		m.mu.Unlock()
		m.metrics.SetPoolBusy(busy)
		<-m.sem
	}()

	start := m.now()
	asset, err := m.run(ctx, j, token)
	dur := m.now().Sub(start)

	if err != nil {
		class := media.ClassifyFailure(err)
		failedAt := m.now()
		// Backoff is in place before the failure is visible and before the pool slot is released.
		if class.BacksOff() {
			m.mu.Lock()
			if until := failedAt.Add(m.cfg.Backoff); until.After(m.backoffUntil) {
				m.backoffUntil = until
			}
			m.mu.Unlock()
			m.metrics.IncBackoff()
		}
		j.batch.fail(j.itemID, token, err, class, failedAt)
		m.metrics.ObserveItem(string(media.StateFailed), string(class), dur)
		m.log.Warn("item failed", "batch_id", j.batch.ID, "item_id", j.itemID, "failure_class", class, "error", err)
		return
	}

	if j.batch.complete(j.itemID, token, asset) {
		m.metrics.ObserveItem(string(media.StateComplete), "", dur)
		id := j.itemID
		time.AfterFunc(m.cfg.PruneDelay, func() { j.batch.prune(id) })
	}
}

// run calls the reconciler, turning a panic into an item failure.
func (m *Manager) run(ctx context.Context, j job, token string) (asset *media.StoredAsset, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("ingest worker panic", "batch_id", j.batch.ID, "item_id", j.itemID, "panic", r)
			asset, err = nil, &panicError{Val: r}
		}
	}()
	j.batch.mu.Lock()
	item := j.batch.items[j.itemID].item
	j.batch.mu.Unlock()
	return m.rec.Reconcile(ctx, item, &itemObserver{batch: j.batch, itemID: j.itemID, token: token, metrics: m.metrics})
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

type itemObserver struct {
	batch   *Batch
	itemID  string
	token   string
	metrics *observability.Metrics
}

func (o *itemObserver) Uploaded(n int64) {
	o.batch.uploaded(o.itemID, o.token, n)
	o.metrics.AddBytesUploaded(n)
}

func (o *itemObserver) Reconciling() { o.batch.reconciling(o.itemID, o.token) }

// tick publishes batch metrics until the batch is done.
func (m *Manager) tick(ctx context.Context, b *Batch) {
	t := time.NewTicker(m.cfg.MetricsTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-t.C:
			b.emitMetrics()
		}
	}
}

// finished is called with b.mu held; it must not take b.mu.
func (m *Manager) finished(b *Batch) {
	m.log.Info("batch finished", "batch_id", b.ID)
	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		delete(m.batches, b.ID)
		m.mu.Unlock()
	})
}

func (m *Manager) publish(ev Event) {
	if m.sinkCh == nil {
		return
	}
	msg := realtime.SSEMessage{Channel: realtime.BatchChannel(ev.BatchID), Event: ev.Type, Data: ev}
	select {
	case m.sinkCh <- msg:
	default:
		m.log.Warn("dropping batch event; sink backlog full", "batch_id", ev.BatchID, "event", ev.Type)
	}
}

func (m *Manager) sinkLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.sinkCh:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := m.sink.Publish(pctx, msg); err != nil {
				m.log.Warn("publish batch event failed", "channel", msg.Channel, "event", msg.Event, "error", err)
			}
			cancel()
		}
	}
}
