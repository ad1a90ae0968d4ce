package media

import (
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KindFromMime maps a mime hint onto a resource kind. Anything that is not video is treated as image.
func KindFromMime(mime string) Kind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "video/") {
		return KindVideo
	}
	return KindImage
}

const (
	MinSlot = 1
	MaxSlot = 14

	UnknownAgent = "unknown"
)

func ValidSlot(slot int) bool { return slot >= MinSlot && slot <= MaxSlot }

type Payload struct {
	Data     []byte
	Kind     Kind
	MimeType string
	FileName string
}

// IngestItem is one unit of work submitted to the pipeline.
// ID is caller-assigned and correlates every status update.
type IngestItem struct {
	ID            string
	Payload       Payload
	Thumbnail     []byte
	OverrideAgent *string
	OverrideSlot  *int
}

func (it *IngestItem) Size() int64 {
	if it == nil {
		return 0
	}
	return int64(len(it.Payload.Data))
}

type ItemState string

const (
	StateQueued      ItemState = "queued"
	StateProcessing  ItemState = "processing" // classify + upload in flight
	StateReconciling ItemState = "reconciling"
	StateComplete    ItemState = "complete"
	StateFailed      ItemState = "failed"
)

func (s ItemState) Terminal() bool { return s == StateComplete || s == StateFailed }

func (s ItemState) rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateProcessing:
		return 1
	case StateReconciling:
		return 2
	case StateComplete, StateFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition enforces the monotonic item lifecycle.
func (s ItemState) CanTransition(next ItemState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return next.rank() > s.rank()
}

// Progress is advisory and derived from state alone.
func (s ItemState) Progress() int {
	switch s {
	case StateProcessing:
		return 25
	case StateReconciling:
		return 75
	case StateComplete:
		return 100
	default:
		return 0
	}
}
