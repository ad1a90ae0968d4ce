package app

import (
	"fmt"

	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/localmedia"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/platform/openai"
	"github.com/yungbote/studio-ingest/internal/realtime/bus"
)

type Clients struct {
	Bucket gcp.BucketService
	OpenAI openai.Client
	// Labels and Media are optional; nil disables label enrichment and video derivatives.
	Labels gcp.LabelDetector
	Media  localmedia.Tools
	// Bus is set when REDIS_ADDR is configured.
	Bus bus.Bus
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	bucket, err := resolveBucketService(log, cfg)
	if err != nil {
		return Clients{}, err
	}
	c.Bucket = bucket

	oa, err := openai.NewClient(log, openai.ConfigFromEnv())
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	c.OpenAI = oa

	if cfg.LabelsEnabled {
		labels, err := gcp.NewLabelDetector(log, gcp.LabelConfig{MaxResults: cfg.MaxTags, MinScore: 0.6})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init vision labels: %w", err)
		}
		c.Labels = labels
	}

	if cfg.LoopsEnabled {
		c.Media = localmedia.New(log, localmedia.Config{FFmpegPath: cfg.FFmpegPath})
	}

	if cfg.RedisAddr != "" {
		b, err := bus.NewRedisBus(log, bus.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init redis event bus: %w", err)
		}
		c.Bus = b
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Labels != nil {
		_ = c.Labels.Close()
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
}
