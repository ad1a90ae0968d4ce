package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/http/response"
	"github.com/yungbote/studio-ingest/internal/ingest/queue"
	"github.com/yungbote/studio-ingest/internal/platform/apierr"
	"github.com/yungbote/studio-ingest/internal/platform/ctxutil"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/realtime"
)

type IngestHandler struct {
	log          *logger.Logger
	queue        *queue.Manager
	hub          *realtime.SSEHub
	maxFileBytes int64
}

func NewIngestHandler(log *logger.Logger, q *queue.Manager, hub *realtime.SSEHub, maxFileBytes int64) *IngestHandler {
	if maxFileBytes <= 0 {
		maxFileBytes = 200 << 20
	}
	return &IngestHandler{
		log:          log.With("handler", "IngestHandler"),
		queue:        q,
		hub:          hub,
		maxFileBytes: maxFileBytes,
	}
}

// POST /api/ingest/batches
//
// multipart fields: files (repeated), and per file index i: id_<i>,
// thumbnail_<i>, override_agent_<i>, override_slot_<i>.
func (h *IngestHandler) SubmitBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart", err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.RespondError(c, http.StatusBadRequest, "missing_files", fmt.Errorf("no files in field %q", "files"))
		return
	}
	if len(files) > queue.MaxBatchSize {
		response.RespondError(c, http.StatusBadRequest, "batch_too_large", fmt.Errorf("at most %d files per batch", queue.MaxBatchSize))
		return
	}

	items := make([]*media.IngestItem, 0, len(files))
	for i, fh := range files {
		item, err := h.itemFromForm(form, i, fh)
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		items = append(items, item)
	}

	b, err := h.queue.SubmitBatch(c.Request.Context(), items)
	if errors.Is(err, queue.ErrDraining) || errors.Is(err, queue.ErrNotStarted) {
		err = apierr.New(http.StatusServiceUnavailable, "queue_unavailable", err)
	}
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	ctxutil.SetBatchID(c.Request.Context(), b.ID)
	response.RespondAccepted(c, gin.H{"batch": b.Snapshot()})
}

func (h *IngestHandler) itemFromForm(form *multipart.Form, i int, fh *multipart.FileHeader) (*media.IngestItem, error) {
	data, mime, err := h.readPart(fh)
	if err != nil {
		return nil, &media.ValidationError{Field: "files", Value: fh.Filename, Reason: err.Error()}
	}
	id := formValue(form, fmt.Sprintf("id_%d", i))
	if id == "" {
		id = uuid.NewString()
	}
	item := &media.IngestItem{
		ID: id,
		Payload: media.Payload{
			Data:     data,
			Kind:     media.KindFromMime(mime),
			MimeType: mime,
			FileName: fh.Filename,
		},
	}
	if thumbs := form.File[fmt.Sprintf("thumbnail_%d", i)]; len(thumbs) > 0 {
		thumb, _, err := h.readPart(thumbs[0])
		if err != nil {
			return nil, &media.ValidationError{Field: fmt.Sprintf("thumbnail_%d", i), Value: thumbs[0].Filename, Reason: err.Error()}
		}
		item.Thumbnail = thumb
	}
	if agent := formValue(form, fmt.Sprintf("override_agent_%d", i)); agent != "" {
		item.OverrideAgent = &agent
	}
	if raw := formValue(form, fmt.Sprintf("override_slot_%d", i)); raw != "" {
		slot, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &media.ValidationError{Field: fmt.Sprintf("override_slot_%d", i), Value: raw, Reason: "not an integer"}
		}
		// Range is checked by the queue so a bad slot fails only this item.
		item.OverrideSlot = &slot
	}
	return item, nil
}

func (h *IngestHandler) readPart(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > h.maxFileBytes {
		return nil, "", fmt.Errorf("file is %d bytes, max %d", fh.Size, h.maxFileBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxFileBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > h.maxFileBytes {
		return nil, "", fmt.Errorf("file exceeds %d bytes", h.maxFileBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("file is empty")
	}
	mime := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// GET /api/ingest/batches/:id
func (h *IngestHandler) GetBatch(c *gin.Context) {
	b, ok := h.queue.Batch(c.Param("id"))
	if !ok {
		response.RespondDomainError(c, apierr.NotFound("batch_not_found", "batch %q not found", c.Param("id")))
		return
	}
	ctxutil.SetBatchID(c.Request.Context(), b.ID)
	response.RespondOK(c, gin.H{"batch": b.Snapshot()})
}

// GET /api/ingest/batches/:id/events
//
// Streams the batch channel from the hub. The stream opens with a snapshot and
// ends after the done event. If the hub dropped that event for a slow client,
// the handler sends a final snapshot and done itself once the batch finishes.
func (h *IngestHandler) BatchEvents(c *gin.Context) {
	b, ok := h.queue.Batch(c.Param("id"))
	if !ok {
		response.RespondDomainError(c, apierr.NotFound("batch_not_found", "batch %q not found", c.Param("id")))
		return
	}
	ctxutil.SetBatchID(c.Request.Context(), b.ID)
	if h.hub == nil {
		h.streamDirect(c, b)
		return
	}

	channel := realtime.BatchChannel(b.ID)
	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, channel)
	defer h.hub.CloseClient(client)

	snap := b.Snapshot()
	client.Outbound <- realtime.SSEMessage{
		Channel: channel,
		Event:   realtime.SSEEventBatchSnapshot,
		Data:    queue.Event{Type: queue.EventSnapshot, BatchID: b.ID, Snapshot: &snap},
	}
	if snap.Done {
		client.Outbound <- realtime.SSEMessage{
			Channel: channel,
			Event:   realtime.SSEEventBatchDone,
			Data:    queue.Event{Type: queue.EventDone, BatchID: b.ID, Snapshot: &snap},
		}
	}
	h.log.Debug("batch stream open", "batch_id", b.ID, "client_id", client.ID)
	h.hub.ServeUntil(c.Writer, c.Request, client, b.Done(), func() []realtime.SSEMessage {
		final := b.Snapshot()
		return []realtime.SSEMessage{
			{Channel: channel, Event: realtime.SSEEventBatchSnapshot, Data: queue.Event{Type: queue.EventSnapshot, BatchID: b.ID, Snapshot: &final}},
			{Channel: channel, Event: realtime.SSEEventBatchDone, Data: queue.Event{Type: queue.EventDone, BatchID: b.ID, Snapshot: &final}},
		}
	})
}

// streamDirect serves a batch subscription without the hub.
func (h *IngestHandler) streamDirect(c *gin.Context, b *queue.Batch) {
	events, cancel := b.Subscribe()
	defer cancel()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	channel := realtime.BatchChannel(b.ID)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), realtime.SSEMessage{Channel: channel, Event: ev.Type, Data: ev})
			c.Writer.Flush()
			if ev.Type == queue.EventDone {
				return
			}
		}
	}
}
