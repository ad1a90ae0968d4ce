package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type SSEEvent string

const (
	SSEEventBatchSnapshot SSEEvent = "BatchSnapshot"
	SSEEventItemUpdated   SSEEvent = "ItemUpdated"
	SSEEventItemPruned    SSEEvent = "ItemPruned"
	SSEEventBatchMetrics  SSEEvent = "BatchMetrics"
	SSEEventBatchLog      SSEEvent = "BatchLog"
	SSEEventBatchDone     SSEEvent = "BatchDone"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// BatchChannel names the channel carrying one batch's events.
func BatchChannel(batchID string) string {
	return "ingest.batch." + strings.TrimSpace(batchID)
}

type SSEClient struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
	once     sync.Once
}

type SSEHub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*SSEClient]bool
	heartbeat     time.Duration
	bufferSize    int
}

func NewSSEHub(log *logger.Logger) *SSEHub {
	return &SSEHub{
		logger:        log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*SSEClient]bool),
		heartbeat:     15 * time.Second,
		bufferSize:    64,
	}
}

func (hub *SSEHub) NewSSEClient() *SSEClient {
	return &SSEClient{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan SSEMessage, hub.bufferSize),
		done:     make(chan struct{}),
	}
}

func (hub *SSEHub) AddChannel(client *SSEClient, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	client.Channels[channel] = true
	clients, exists := hub.subscriptions[channel]
	if !exists {
		clients = make(map[*SSEClient]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.logger.Debug("SSE client subscribed", "clientID", client.ID, "channel", channel)
}

func (hub *SSEHub) RemoveClient(client *SSEClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range client.Channels {
		if subMap, ok := hub.subscriptions[ch]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(hub.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Subscribers reports how many clients listen on channel.
func (hub *SSEHub) Subscribers(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

// Broadcast never blocks; a client with a full buffer misses the message.
func (hub *SSEHub) Broadcast(msg SSEMessage) {
	if msg.Channel == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			hub.logger.Warn("Dropping SSE message; outbound buffer full", "clientID", c.ID, "event", msg.Event)
		}
	}
}

// Publish lets the hub stand in for a bus when the service runs as a single instance.
func (hub *SSEHub) Publish(ctx context.Context, msg SSEMessage) error {
	hub.Broadcast(msg)
	return nil
}

func (hub *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *SSEClient) {
	hub.ServeUntil(w, r, client, nil, nil)
}

// ServeUntil streams like ServeHTTP but also ends when stop closes. Messages
// still buffered for the client are written first, then the ones returned by
// final, unless a BatchDone already went out. Broadcast drops messages for a
// full buffer, so stop is what guarantees the stream ends.
func (hub *SSEHub) ServeUntil(w http.ResponseWriter, r *http.Request, client *SSEClient, stop <-chan struct{}, final func() []SSEMessage) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	flusher.Flush()
	ctx := r.Context()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-stop:
		drain:
			for {
				select {
				case msg, ok := <-client.Outbound:
					if !ok {
						return
					}
					if hub.write(w, flusher, msg) {
						return
					}
				default:
					break drain
				}
			}
			if final != nil {
				for _, msg := range final() {
					if hub.write(w, flusher, msg) {
						return
					}
				}
			}
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			if hub.write(w, flusher, msg) {
				return
			}
		}
	}
}

// write sends one event and reports whether it ended the stream.
func (hub *SSEHub) write(w http.ResponseWriter, flusher http.Flusher, msg SSEMessage) bool {
	jsonBytes, err := json.Marshal(msg)
	if err != nil {
		hub.logger.Warn("Failed to marshal SSE message", "error", err)
		return false
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, jsonBytes)
	flusher.Flush()
	return msg.Event == SSEEventBatchDone
}

// CloseClient detaches client and closes its outbound channel; safe to call twice.
func (hub *SSEHub) CloseClient(client *SSEClient) {
	client.once.Do(func() {
		close(client.done)
		hub.RemoveClient(client)
		hub.mu.Lock()
		close(client.Outbound)
		hub.mu.Unlock()
	})
}
