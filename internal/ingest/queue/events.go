package queue

import (
	"time"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type EventType = realtime.SSEEvent

const (
	EventSnapshot    = realtime.SSEEventBatchSnapshot
	EventItemUpdated = realtime.SSEEventItemUpdated
	EventItemPruned  = realtime.SSEEventItemPruned
	EventMetrics     = realtime.SSEEventBatchMetrics
	EventLog         = realtime.SSEEventBatchLog
	EventDone        = realtime.SSEEventBatchDone
)

// Event is one entry of a batch's stream. Exactly one payload field is set.
type Event struct {
	Type     EventType     `json:"type"`
	BatchID  string        `json:"batch_id"`
	Item     *ItemSnapshot `json:"item,omitempty"`
	Metrics  *Metrics      `json:"metrics,omitempty"`
	Log      *LogLine      `json:"log,omitempty"`
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
}

type ItemSnapshot struct {
	ID               string          `json:"id"`
	FileName         string          `json:"file_name,omitempty"`
	Kind             media.Kind      `json:"kind"`
	State            media.ItemState `json:"state"`
	Progress         int             `json:"progress"`
	Size             int64           `json:"size"`
	BytesTransferred int64           `json:"bytes_transferred"`
	PublicID         string          `json:"public_id,omitempty"`
	URL              string          `json:"url,omitempty"`
	Agent            string          `json:"agent,omitempty"`
	Slot             int             `json:"slot,omitempty"`
	Error            string          `json:"error,omitempty"`
	FailureClass     string          `json:"failure_class,omitempty"`
	DispatchedAt     *time.Time      `json:"dispatched_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// Metrics are advisory. BytesTransferred may dip when an item fails after its upload finished.
type Metrics struct {
	BytesExpected    int64   `json:"bytes_expected"`
	BytesTransferred int64   `json:"bytes_transferred"`
	ElapsedMs        int64   `json:"elapsed_ms"`
	ThroughputBps    float64 `json:"throughput_bps"`
	Queued           int     `json:"queued"`
	InFlight         int     `json:"in_flight"`
	Complete         int     `json:"complete"`
	Failed           int     `json:"failed"`
}

type LogKind string

const (
	LogScanStart      LogKind = "scan_start"
	LogUploadStart    LogKind = "upload_start"
	LogRateLimitPause LogKind = "rate_limit_pause"
	LogSuccess        LogKind = "success"
	LogFailure        LogKind = "failure"
)

type LogLine struct {
	At      time.Time `json:"at"`
	ItemID  string    `json:"item_id,omitempty"`
	Kind    LogKind   `json:"kind"`
	Message string    `json:"message"`
}

type Snapshot struct {
	BatchID    string         `json:"batch_id"`
	Items      []ItemSnapshot `json:"items"`
	Metrics    Metrics        `json:"metrics"`
	Log        []LogLine      `json:"log"`
	Done       bool           `json:"done"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// logRing keeps the newest lines up to its capacity.
type logRing struct {
	lines []LogLine
	start int
	size  int
}

func newLogRing(capacity int) *logRing {
	if capacity < 1 {
		capacity = 1
	}
	return &logRing{lines: make([]LogLine, capacity)}
}

func (r *logRing) add(l LogLine) {
	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = l
		r.size++
		return
	}
	r.lines[r.start] = l
	r.start = (r.start + 1) % len(r.lines)
}

func (r *logRing) list() []LogLine {
	out := make([]LogLine, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.lines[(r.start+i)%len(r.lines)])
	}
	return out
}
