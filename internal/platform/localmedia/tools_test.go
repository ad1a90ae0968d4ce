package localmedia

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

func TestThumbnailArgs(t *testing.T) {
	got := thumbnailArgs("in.mp4", "out.jpg", ThumbnailOptions{AtSeconds: 0.5, Width: 512})
	want := []string{"-y", "-ss", "0.500", "-i", "in.mp4", "-frames:v", "1", "-vf", "scale=512:-2", "-q:v", "3", "out.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("thumbnailArgs:\nwant=%v\n got=%v", want, got)
	}
}

func TestLoopArgs(t *testing.T) {
	got := loopArgs("in.mov", "loop.mp4", LoopOptions{MaxSeconds: 8})
	joined := strings.Join(got, " ")
	for _, part := range []string{"-an", "-t 8.000", "-crf 23", "-movflags +faststart", "format=yuv420p"} {
		if !strings.Contains(joined, part) {
			t.Fatalf("loopArgs missing %q: %s", part, joined)
		}
	}
	if got[len(got)-1] != "loop.mp4" {
		t.Fatalf("output should be last: %v", got)
	}
}

func TestWorkspaceCleanup(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := New(log, Config{WorkRoot: t.TempDir()}).(*tools)
	dir, input, cleanup, err := m.workspace([]byte("abc"), "mp4")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	if filepath.Ext(input) != ".mp4" {
		t.Fatalf("input suffix: %s", input)
	}
	if b, _ := os.ReadFile(input); string(b) != "abc" {
		t.Fatalf("input content: %q", b)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("dir should be removed: %v", err)
	}
}

func TestExtractThumbnailMissingBinary(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := New(log, Config{FFmpegPath: "ffmpeg-does-not-exist-here", WorkRoot: t.TempDir()})
	if _, err := m.ExtractThumbnail(context.Background(), []byte("x"), ".mp4", ThumbnailOptions{}); err == nil {
		t.Fatalf("expected missing binary error")
	}
	if _, lookErr := exec.LookPath("ffmpeg-does-not-exist-here"); lookErr == nil {
		t.Skip("unexpected binary present")
	}
}
