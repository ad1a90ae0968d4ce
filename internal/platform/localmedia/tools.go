package localmedia

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/studio-ingest/internal/platform/ctxutil"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

// Tools wraps the ffmpeg binary for the two derivatives the ingest pipeline needs:
// a still frame for classifying videos and a loop-ready re-encode.
type Tools interface {
	AssertReady(ctx context.Context) error
	ExtractThumbnail(ctx context.Context, video []byte, suffix string, opts ThumbnailOptions) ([]byte, error)
	TranscodeLoop(ctx context.Context, video []byte, suffix string, opts LoopOptions) ([]byte, error)
}

type ThumbnailOptions struct {
	AtSeconds   float64
	Width       int
	JPEGQuality int
}

type LoopOptions struct {
	Width      int
	CRF        int
	MaxSeconds float64
}

type Config struct {
	FFmpegPath     string
	WorkRoot       string
	DefaultTimeout time.Duration
}

type tools struct {
	log *logger.Logger

	ffmpegPath     string
	workRoot       string
	defaultTimeout time.Duration
}

func New(log *logger.Logger, cfg Config) Tools {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "studio-ingest-media")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	return &tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     cfg.FFmpegPath,
		workRoot:       cfg.WorkRoot,
		defaultTimeout: cfg.DefaultTimeout,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(m.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", m.ffmpegPath, err)
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

// workspace writes data into a fresh directory and returns the input path.
func (m *tools) workspace(data []byte, suffix string) (dir string, input string, cleanup func(), err error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err = os.MkdirTemp(m.workRoot, "job-")
	if err != nil {
		return "", "", func() {}, fmt.Errorf("mkdir job dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	input = filepath.Join(dir, "input"+suffix)
	if err := os.WriteFile(input, data, 0o644); err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	return dir, input, cleanup, nil
}

func (m *tools) run(ctx context.Context, args []string, outPath string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w; out=%s", err, tail(out, 512))
	}
	b, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg output missing at %s: %w", outPath, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty file")
	}
	return b, nil
}

func (m *tools) ExtractThumbnail(ctx context.Context, video []byte, suffix string, opts ThumbnailOptions) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	if len(video) == 0 {
		return nil, fmt.Errorf("video bytes required")
	}
	if err := m.AssertReady(ctx); err != nil {
		return nil, err
	}
	dir, input, cleanup, err := m.workspace(video, suffix)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out := filepath.Join(dir, "thumb.jpg")
	return m.run(ctx, thumbnailArgs(input, out, opts), out)
}

func (m *tools) TranscodeLoop(ctx context.Context, video []byte, suffix string, opts LoopOptions) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	if len(video) == 0 {
		return nil, fmt.Errorf("video bytes required")
	}
	if err := m.AssertReady(ctx); err != nil {
		return nil, err
	}
	dir, input, cleanup, err := m.workspace(video, suffix)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out := filepath.Join(dir, "loop.mp4")
	start := time.Now()
	b, err := m.run(ctx, loopArgs(input, out, opts), out)
	if err != nil {
		return nil, err
	}
	m.log.Debug("loop transcode done", "bytes_in", len(video), "bytes_out", len(b), "took", time.Since(start).String())
	return b, nil
}

func thumbnailArgs(input, output string, opts ThumbnailOptions) []string {
	at := opts.AtSeconds
	if at < 0 {
		at = 0
	}
	q := opts.JPEGQuality
	if q <= 0 {
		q = 3
	}
	args := []string{"-y", "-ss", strconv.FormatFloat(at, 'f', 3, 64), "-i", input, "-frames:v", "1"}
	if opts.Width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", opts.Width))
	}
	return append(args, "-q:v", strconv.Itoa(q), output)
}

// loopArgs re-encodes to a silent, faststart h264 mp4 with a keyframe on every
// second so the result loops without a stall.
func loopArgs(input, output string, opts LoopOptions) []string {
	crf := opts.CRF
	if crf <= 0 {
		crf = 23
	}
	args := []string{"-y", "-i", input, "-an"}
	if opts.MaxSeconds > 0 {
		args = append(args, "-t", strconv.FormatFloat(opts.MaxSeconds, 'f', 3, 64))
	}
	vf := "format=yuv420p"
	if opts.Width > 0 {
		vf = fmt.Sprintf("scale=%d:-2,%s", opts.Width, vf)
	}
	return append(args,
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", strconv.Itoa(crf),
		"-force_key_frames", "expr:gte(t,n_forced*1)",
		"-movflags", "+faststart",
		output,
	)
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
