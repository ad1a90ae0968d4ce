package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
	"github.com/yungbote/studio-ingest/internal/platform/openai"
)

type fakeVision struct {
	out    string
	err    error
	system string
	images []openai.ImageInput
}

func (f *fakeVision) GenerateTextWithImages(ctx context.Context, system string, user string, images []openai.ImageInput) (string, error) {
	f.system = system
	f.images = images
	return f.out, f.err
}

type fakeLabels struct {
	labels []string
	err    error
}

func (f *fakeLabels) DetectLabels(ctx context.Context, img []byte) ([]string, error) {
	return f.labels, f.err
}

func (f *fakeLabels) Close() error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose", `Sure! Here it is: {"a":1} hope that helps`, `{"a":1}`, true},
		{"fence", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"x}y"}`, `{"a":"x}y"}`, true},
		{"escaped quote", `{"a":"say \"}\""}`, `{"a":"say \"}\""}`, true},
		{"skips invalid", `{not json} then {"a":1}`, `{"a":1}`, true},
		{"none", `no object here`, "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FirstJSONObject(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("FirstJSONObject(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestParseNormalizes(t *testing.T) {
	roster := media.DefaultRoster()
	res, err := Parse(`Result: {"agent":" Kestrel ","slot":"5","role":"close-up","suggested_name":"kestrel eyes","tags":["Night"," night ","neon"],"confidence":1.7}`, roster)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Agent != "kestrel" || res.Slot != 5 || res.Confidence != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if strings.Join(res.Tags, ",") != "night,neon" {
		t.Fatalf("tags: %v", res.Tags)
	}

	res, err = Parse(`{"agent":"stranger","slot":22,"confidence":0.1}`, roster)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Agent != media.UnknownAgent || res.Slot != 0 {
		t.Fatalf("off-roster values should normalize: %+v", res)
	}
}

func TestParseFailures(t *testing.T) {
	roster := media.DefaultRoster()
	for _, in := range []string{"", "I cannot help with that", `{"slot":3}`, `{"agent":5}`} {
		_, err := Parse(in, roster)
		var ce *media.ClassificationError
		if !errors.As(err, &ce) {
			t.Fatalf("Parse(%q): want ClassificationError, got %v", in, err)
		}
	}
}

func TestClassifyLowConfidenceStillSucceeds(t *testing.T) {
	vision := &fakeVision{out: `{"agent":"unknown","slot":5,"confidence":0.1}`}
	c, err := New(testLogger(t), vision, media.DefaultRoster(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Classify(context.Background(), pngHeader, "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Agent != media.UnknownAgent || res.Slot != 5 || res.Confidence != 0.1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(vision.images) != 1 || !strings.HasPrefix(vision.images[0].ImageURL, "data:image/png;base64,") {
		t.Fatalf("image not sent as png data url: %+v", vision.images)
	}
	if !strings.Contains(vision.system, "kestrel") {
		t.Fatalf("system prompt should list the roster")
	}
}

func TestClassifyUpstreamError(t *testing.T) {
	upstream := &openai.HTTPError{StatusCode: 429, Body: "slow down"}
	c, err := New(testLogger(t), &fakeVision{err: upstream}, media.DefaultRoster(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Classify(context.Background(), pngHeader, "image/png")
	var ce *media.ClassificationError
	if !errors.As(err, &ce) {
		t.Fatalf("want ClassificationError, got %v", err)
	}
	if ce.StatusCode != 429 {
		t.Fatalf("status not carried: %d", ce.StatusCode)
	}
	if media.ClassifyFailure(err) != media.FailureRateLimited {
		t.Fatalf("429 should classify as rate limited")
	}
}

func TestClassifyMergesLabels(t *testing.T) {
	vision := &fakeVision{out: `{"agent":"sable","slot":1,"tags":["portrait"],"confidence":0.9}`}
	labels := &fakeLabels{labels: []string{"portrait", "smile", "jacket", "hair", "face", "light"}}
	c, err := New(testLogger(t), vision, media.DefaultRoster(), Options{Labels: labels, MaxLabels: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Classify(context.Background(), pngHeader, "image/png")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if strings.Join(res.Tags, ",") != "portrait,smile,jacket" {
		t.Fatalf("tags: %v", res.Tags)
	}
}

func TestClassifyIgnoresLabelFailure(t *testing.T) {
	vision := &fakeVision{out: `{"agent":"sable","slot":1,"tags":["portrait"],"confidence":0.9}`}
	labels := &fakeLabels{err: errors.New("vision api unavailable")}
	c, err := New(testLogger(t), vision, media.DefaultRoster(), Options{Labels: labels})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Classify(context.Background(), pngHeader, "image/png")
	if err != nil {
		t.Fatalf("label failure should not fail classification: %v", err)
	}
	if strings.Join(res.Tags, ",") != "portrait" {
		t.Fatalf("tags: %v", res.Tags)
	}
}
