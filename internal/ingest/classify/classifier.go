package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/httpx"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/platform/openai"
)

// Classifier turns one still image into a ClassificationResult.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeHint string) (*media.ClassificationResult, error)
}

type Options struct {
	// Labels, when set, adds detected labels to the result tags. Its failures never fail Classify.
	Labels    gcp.LabelDetector
	MaxLabels int
	Detail    string
}

type visionClassifier struct {
	log    *logger.Logger
	client openai.Client
	roster media.Roster
	opts   Options
	system string
}

func New(log *logger.Logger, client openai.Client, roster media.Roster, opts Options) (Classifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("vision client required")
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxLabels <= 0 {
		opts.MaxLabels = 4
	}
	if opts.Detail == "" {
		opts.Detail = "low"
	}
	return &visionClassifier{
		log:    log.With("service", "Classifier"),
		client: client,
		roster: roster,
		opts:   opts,
		system: systemPrompt(roster),
	}, nil
}

func (c *visionClassifier) Classify(ctx context.Context, image []byte, mimeHint string) (*media.ClassificationResult, error) {
	if len(image) == 0 {
		return nil, &media.ClassificationError{Reason: "empty image"}
	}
	mime := imageMime(image, mimeHint)

	var (
		text   string
		labels []string
	)
	g := errgroup.Group{}
	g.Go(func() error {
		out, err := c.client.GenerateTextWithImages(ctx, c.system, userPrompt,
			[]openai.ImageInput{{ImageURL: openai.DataURL(mime, image), Detail: c.opts.Detail}})
		if err != nil {
			return &media.ClassificationError{Reason: "vision request", StatusCode: httpx.StatusCode(err), Err: err}
		}
		text = out
		return nil
	})
	if c.opts.Labels != nil {
		g.Go(func() error {
			l, err := c.opts.Labels.DetectLabels(ctx, image)
			if err != nil {
				c.log.Warn("label detection skipped", "error", err)
				return nil
			}
			labels = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res, err := Parse(text, c.roster)
	if err != nil {
		return nil, err
	}
	if len(labels) > c.opts.MaxLabels {
		labels = labels[:c.opts.MaxLabels]
	}
	res.Tags = mergeTags(res.Tags, labels)
	c.log.Debug("classified", "agent", res.Agent, "slot", res.Slot, "confidence", res.Confidence)
	return res, nil
}

// Parse extracts and normalizes a ClassificationResult from free-form model output.
// Agents outside the roster become "unknown" and slots outside 1..14 become 0.
func Parse(text string, roster media.Roster) (*media.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &media.ClassificationError{Reason: "empty response"}
	}
	obj, ok := FirstJSONObject(text)
	if !ok {
		return nil, &media.ClassificationError{Reason: "no JSON object in response"}
	}
	var raw rawResult
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, &media.ClassificationError{Reason: "response does not match result shape", Err: err}
	}
	if raw.Agent == nil {
		return nil, &media.ClassificationError{Reason: "response does not match result shape: missing agent"}
	}

	res := &media.ClassificationResult{
		Agent:         media.UnknownAgent,
		Role:          strings.TrimSpace(raw.Role),
		SuggestedName: strings.TrimSpace(raw.SuggestedName),
		Reasoning:     strings.TrimSpace(raw.Reasoning),
	}
	if res.SuggestedName == "" {
		res.SuggestedName = strings.TrimSpace(raw.SuggestedAlt)
	}
	if agent, ok := roster.Canonical(*raw.Agent); ok {
		res.Agent = agent
	}
	if slot, ok := looseInt(raw.Slot); ok && media.ValidSlot(slot) {
		res.Slot = slot
	}
	if conf, ok := looseFloat(raw.Confidence); ok {
		res.Confidence = clamp01(conf)
	}
	res.Tags = mergeTags(looseStrings(raw.Tags), nil)
	return res, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// mergeTags lowercases, trims and dedupes, keeping first-seen order.
func mergeTags(primary, extra []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range [][]string{primary, extra} {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func imageMime(image []byte, hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if strings.HasPrefix(hint, "image/") {
		return hint
	}
	if sniffed := http.DetectContentType(image); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/jpeg"
}

const userPrompt = "Classify this reference image. Reply with one JSON object only."

func systemPrompt(roster media.Roster) string {
	var b strings.Builder
	b.WriteString("You sort reference imagery for a character studio.\n")
	b.WriteString("Agents: ")
	b.WriteString(strings.Join(roster.Names(), ", "))
	b.WriteString(". Use \"unknown\" when no agent is clearly depicted.\n")
	if len(roster.SlotRoles) > 0 {
		slots := make([]int, 0, len(roster.SlotRoles))
		for s := range roster.SlotRoles {
			slots = append(slots, s)
		}
		sort.Ints(slots)
		b.WriteString("Slots:\n")
		for _, s := range slots {
			fmt.Fprintf(&b, "  %d: %s\n", s, roster.SlotRoles[s])
		}
	}
	fmt.Fprintf(&b, "Return {\"agent\", \"slot\" (%d-%d or 0), \"role\", \"suggested_name\", \"tags\", \"confidence\" (0-1), \"reasoning\"}.", media.MinSlot, media.MaxSlot)
	return b.String()
}
