package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/studio-ingest/internal/platform/ctxutil"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

// LabelDetector returns short descriptive labels for an image.
type LabelDetector interface {
	DetectLabels(ctx context.Context, img []byte) ([]string, error)
	Close() error
}

type LabelConfig struct {
	MaxResults int
	MinScore   float32
	Timeout    time.Duration
}

type visionLabels struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
	cfg    LabelConfig
}

func NewLabelDetector(log *logger.Logger, cfg LabelConfig) (LabelDetector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionLabels{
		log:    log.With("service", "gcp.Labels"),
		client: c,
		cfg:    cfg,
	}, nil
}

func (v *visionLabels) DetectLabels(ctx context.Context, img []byte) ([]string, error) {
	if len(img) == 0 {
		return nil, nil
	}
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: int32(v.cfg.MaxResults)},
			},
		}},
	}
	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return labelsFromAnnotations(r0.LabelAnnotations, v.cfg.MinScore), nil
}

func (v *visionLabels) Close() error {
	if v == nil || v.client == nil {
		return nil
	}
	return v.client.Close()
}

// labelsFromAnnotations lowercases, dedupes and orders labels by score.
func labelsFromAnnotations(anns []*visionpb.EntityAnnotation, minScore float32) []string {
	type scored struct {
		label string
		score float32
	}
	seen := map[string]bool{}
	list := make([]scored, 0, len(anns))
	for _, a := range anns {
		if a == nil || a.Score < minScore {
			continue
		}
		l := strings.ToLower(strings.TrimSpace(a.Description))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		list = append(list, scored{label: l, score: a.Score})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.label)
	}
	return out
}
