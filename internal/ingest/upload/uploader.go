package upload

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/httpx"
	"github.com/yungbote/studio-ingest/internal/platform/localmedia"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type Uploader interface {
	UploadProvisional(ctx context.Context, data []byte, mimeHint string, key string) (*media.ProvisionalUpload, error)
}

type Options struct {
	// Media enables the loop derivative for video uploads. Nil disables it.
	Media       localmedia.Tools
	Loop        localmedia.LoopOptions
	LoopTimeout time.Duration
}

type Service struct {
	log    *logger.Logger
	bucket gcp.BucketService
	opts   Options

	loops sync.WaitGroup
}

func New(log *logger.Logger, bucket gcp.BucketService, opts Options) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if bucket == nil {
		return nil, fmt.Errorf("bucket service required")
	}
	if opts.LoopTimeout <= 0 {
		opts.LoopTimeout = 3 * time.Minute
	}
	return &Service{log: log.With("service", "ProvisionalUploader"), bucket: bucket, opts: opts}, nil
}

func (s *Service) UploadProvisional(ctx context.Context, data []byte, mimeHint string, key string) (*media.ProvisionalUpload, error) {
	if strings.TrimSpace(key) == "" {
		return nil, &media.UploadError{Message: "provisional key required"}
	}
	if len(data) == 0 {
		return nil, &media.UploadError{Key: key, Message: "empty payload"}
	}
	if strings.TrimSpace(mimeHint) == "" {
		mimeHint = http.DetectContentType(data)
	}
	kind := media.KindFromMime(mimeHint)
	category := gcp.CategoryForKind(kind)

	attrs, err := s.bucket.UploadObject(ctx, category, key, bytes.NewReader(data), gcp.UploadOptions{
		ContentType: strings.TrimSpace(mimeHint),
		Metadata:    map[string]string{"stage": "provisional"},
	})
	if err != nil {
		return nil, uploadError(key, err)
	}

	out := &media.ProvisionalUpload{
		ProviderID:   attrs.ProviderID(),
		Key:          key,
		URL:          s.bucket.GetPublicURL(category, key),
		ResourceKind: kind,
		Format:       formatFromMime(mimeHint),
		ByteSize:     attrs.Size,
	}
	if out.ByteSize == 0 {
		out.ByteSize = int64(len(data))
	}
	if kind == media.KindImage {
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			w, h := cfg.Width, cfg.Height
			out.Width, out.Height = &w, &h
			if out.Format == "" {
				out.Format = format
			}
		} else {
			s.log.Debug("image header not decodable", "key", key, "error", err)
		}
	}
	if kind == media.KindVideo && s.opts.Media != nil {
		out.LoopKey = LoopKey(key)
		s.startLoop(data, out.LoopKey)
	}
	return out, nil
}

// startLoop renders the loop derivative in the background. The upload result never waits on it.
func (s *Service) startLoop(video []byte, loopKey string) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.LoopTimeout)
		defer cancel()

		loop, err := s.opts.Media.TranscodeLoop(ctx, video, ".mp4", s.opts.Loop)
		if err != nil {
			s.log.Warn("loop transcode failed", "loop_key", loopKey, "error", err)
			return
		}
		_, err = s.bucket.UploadObject(ctx, gcp.BucketCategoryVideo, loopKey, bytes.NewReader(loop), gcp.UploadOptions{
			ContentType: "video/mp4",
			Metadata:    map[string]string{"derivative": "loop"},
		})
		if err != nil {
			s.log.Warn("loop upload failed", "loop_key", loopKey, "error", err)
			return
		}
		s.log.Debug("loop derivative stored", "loop_key", loopKey, "bytes", len(loop))
	}()
}

// Drain waits for background loop renders, or until ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uploadError(key string, err error) *media.UploadError {
	status, msg := gcp.ProviderStatus(err)
	if status == 0 {
		status = httpx.StatusCode(err)
	}
	return &media.UploadError{Key: key, StatusCode: status, Message: msg, Err: err}
}

func formatFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	_, sub, ok := strings.Cut(mime, "/")
	if !ok {
		return ""
	}
	switch sub {
	case "jpeg", "pjpeg":
		return "jpg"
	case "quicktime":
		return "mov"
	case "svg+xml":
		return "svg"
	}
	return sub
}

// StorageError wraps an object-store failure on key, keeping the provider status and message.
func StorageError(key string, err error) *media.UploadError {
	return uploadError(key, err)
}
