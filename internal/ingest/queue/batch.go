package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/studio-ingest/internal/domain/media"
)

type itemState struct {
	item *media.IngestItem
	// token is issued at dispatch; only its holder may move the item forward.
	token string

	state            media.ItemState
	bytesTransferred int64
	publicID         string
	url              string
	agent            string
	slot             int
	err              string
	failureClass     media.FailureClass
	dispatchedAt     time.Time
	finishedAt       time.Time
	pruned           bool
}

func (s *itemState) snapshot() ItemSnapshot {
	out := ItemSnapshot{
		ID:               s.item.ID,
		FileName:         s.item.Payload.FileName,
		Kind:             s.item.Payload.Kind,
		State:            s.state,
		Progress:         s.state.Progress(),
		Size:             s.item.Size(),
		BytesTransferred: s.bytesTransferred,
		PublicID:         s.publicID,
		URL:              s.url,
		Agent:            s.agent,
		Slot:             s.slot,
		Error:            s.err,
		FailureClass:     string(s.failureClass),
	}
	if !s.dispatchedAt.IsZero() {
		t := s.dispatchedAt
		out.DispatchedAt = &t
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		out.FinishedAt = &t
	}
	return out
}

// Batch is the observable state of one submission. Poll it with Snapshot or
// stream it with Subscribe.
type Batch struct {
	ID string

	mgr *Manager

	mu               sync.Mutex
	order            []string
	items            map[string]*itemState
	startedAt        time.Time
	finishedAt       time.Time
	bytesExpected    int64
	bytesTransferred int64
	remaining        int
	log              *logRing
	subs             map[int]chan Event
	nextSub          int
	done             chan struct{}
}

func newBatch(id string, mgr *Manager, items []*media.IngestItem, now time.Time) *Batch {
	b := &Batch{
		ID:        id,
		mgr:       mgr,
		items:     make(map[string]*itemState, len(items)),
		startedAt: now,
		remaining: len(items),
		log:       newLogRing(mgr.cfg.LogSize),
		subs:      map[int]chan Event{},
		done:      make(chan struct{}),
	}
	for _, it := range items {
		b.order = append(b.order, it.ID)
		b.items[it.ID] = &itemState{item: it, state: media.StateQueued}
		b.bytesExpected += it.Size()
	}
	return b
}

// Done is closed once every item is terminal.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch is done or ctx ends.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batch) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Batch) snapshotLocked() Snapshot {
	out := Snapshot{
		BatchID:   b.ID,
		Items:     make([]ItemSnapshot, 0, len(b.order)),
		Metrics:   b.metricsLocked(),
		Log:       b.log.list(),
		Done:      b.remaining == 0,
		StartedAt: b.startedAt,
	}
	for _, id := range b.order {
		if st := b.items[id]; !st.pruned {
			out.Items = append(out.Items, st.snapshot())
		}
	}
	if !b.finishedAt.IsZero() {
		t := b.finishedAt
		out.FinishedAt = &t
	}
	return out
}

func (b *Batch) metricsLocked() Metrics {
	end := b.mgr.now()
	if !b.finishedAt.IsZero() {
		end = b.finishedAt
	}
	elapsed := end.Sub(b.startedAt)
	m := Metrics{
		BytesExpected:    b.bytesExpected,
		BytesTransferred: b.bytesTransferred,
		ElapsedMs:        elapsed.Milliseconds(),
	}
	if elapsed > 0 {
		m.ThroughputBps = float64(b.bytesTransferred) / elapsed.Seconds()
	}
	for _, st := range b.items {
		switch st.state {
		case media.StateQueued:
			m.Queued++
		case media.StateProcessing, media.StateReconciling:
			m.InFlight++
		case media.StateComplete:
			m.Complete++
		case media.StateFailed:
			m.Failed++
		}
	}
	return m
}

// Subscribe returns a stream that starts with a full snapshot. The channel is
// closed after the done event or when cancel is called. A slow reader misses
// events rather than stalling the batch.
func (b *Batch) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 128)
	b.mu.Lock()
	snap := b.snapshotLocked()
	ch <- Event{Type: EventSnapshot, BatchID: b.ID, Snapshot: &snap}
	if b.remaining == 0 {
		ch <- Event{Type: EventDone, BatchID: b.ID, Snapshot: &snap}
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// emitLocked fans ev out to subscribers and the manager's sink without blocking.
func (b *Batch) emitLocked(ev Event) {
	ev.BatchID = b.ID
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mgr.publish(ev)
}

func (b *Batch) logLocked(kind LogKind, itemID, msg string) {
	line := LogLine{At: b.mgr.now(), ItemID: itemID, Kind: kind, Message: msg}
	b.log.add(line)
	b.emitLocked(Event{Type: EventLog, Log: &line})
}

func (b *Batch) emitItemLocked(st *itemState) {
	snap := st.snapshot()
	b.emitLocked(Event{Type: EventItemUpdated, Item: &snap})
}

func (b *Batch) emitMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metricsLocked()
	b.emitLocked(Event{Type: EventMetrics, Metrics: &m})
}

// owned returns the item only when token is the one issued at its dispatch.
func (b *Batch) ownedLocked(itemID, token string) *itemState {
	st := b.items[itemID]
	if st == nil || token == "" || st.token != token {
		return nil
	}
	return st
}

// claim issues the ownership token and moves the item into processing.
func (b *Batch) claim(itemID, token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.items[itemID]
	if st == nil || st.token != "" || !st.state.CanTransition(media.StateProcessing) {
		return false
	}
	st.token = token
	st.state = media.StateProcessing
	st.dispatchedAt = b.mgr.now()

	name := displayName(st.item)
	b.logLocked(LogScanStart, itemID, fmt.Sprintf("Scanning %s", name))
	b.logLocked(LogUploadStart, itemID, fmt.Sprintf("Uploading %s (%s)", name, humanBytes(st.item.Size())))
	b.emitItemLocked(st)
	return true
}

func (b *Batch) uploaded(itemID, token string, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.ownedLocked(itemID, token)
	if st == nil || st.state.Terminal() {
		return
	}
	st.bytesTransferred = n
	b.bytesTransferred += n
	b.emitItemLocked(st)
}

func (b *Batch) reconciling(itemID, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.ownedLocked(itemID, token)
	if st == nil || !st.state.CanTransition(media.StateReconciling) {
		return
	}
	st.state = media.StateReconciling
	b.emitItemLocked(st)
}

func (b *Batch) complete(itemID, token string, asset *media.StoredAsset) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.ownedLocked(itemID, token)
	if st == nil || !st.state.CanTransition(media.StateComplete) {
		return false
	}
	st.state = media.StateComplete
	st.finishedAt = b.mgr.now()
	if asset != nil {
		st.publicID = asset.PublicID
		st.url = asset.URL
		if asset.HasIdentity() {
			st.agent, st.slot = *asset.IdentityAgent, *asset.IdentitySlot
		}
	}
	msg := fmt.Sprintf("Stored %s as %s", displayName(st.item), st.publicID)
	if st.slot != 0 {
		msg += fmt.Sprintf(" in %s slot %d", st.agent, st.slot)
	}
	b.logLocked(LogSuccess, itemID, msg)
	b.emitItemLocked(st)
	b.finishLocked()
	return true
}

func (b *Batch) fail(itemID, token string, cause error, class media.FailureClass, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.ownedLocked(itemID, token)
	if st == nil {
		return false
	}
	return b.failLocked(st, cause, class, at)
}

// reject fails an item that never reached the pool.
func (b *Batch) reject(itemID string, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.items[itemID]; st != nil && st.token == "" {
		b.failLocked(st, cause, media.ClassifyFailure(cause), b.mgr.now())
	}
}

func (b *Batch) failLocked(st *itemState, cause error, class media.FailureClass, at time.Time) bool {
	if !st.state.CanTransition(media.StateFailed) {
		return false
	}
	st.state = media.StateFailed
	st.finishedAt = at
	st.err = cause.Error()
	st.failureClass = class
	b.bytesTransferred -= st.bytesTransferred
	st.bytesTransferred = 0

	b.logLocked(LogFailure, st.item.ID, fmt.Sprintf("Failed %s: %s", displayName(st.item), st.err))
	b.emitItemLocked(st)
	b.finishLocked()
	return true
}

func (b *Batch) pauseLocked(itemID string, d time.Duration) {
	b.logLocked(LogRateLimitPause, itemID, fmt.Sprintf("Upstream is throttling; pausing %s before the next item", d.Round(100*time.Millisecond)))
}

func (b *Batch) prune(itemID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.items[itemID]
	if st == nil || st.pruned || st.state != media.StateComplete {
		return
	}
	st.pruned = true
	snap := st.snapshot()
	b.emitLocked(Event{Type: EventItemPruned, Item: &snap})
}

func (b *Batch) finishLocked() {
	b.remaining--
	if b.remaining > 0 {
		return
	}
	b.finishedAt = b.mgr.now()
	snap := b.snapshotLocked()
	b.emitLocked(Event{Type: EventMetrics, Metrics: &snap.Metrics})
	b.emitLocked(Event{Type: EventDone, Snapshot: &snap})
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	close(b.done)
	b.mgr.finished(b)
}

func displayName(it *media.IngestItem) string {
	if it.Payload.FileName != "" {
		return it.Payload.FileName
	}
	return it.ID
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
