package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/http/middleware"
	"github.com/yungbote/studio-ingest/internal/platform/envutil"
	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type Config struct {
	Addr            string
	Environment     string
	Version         string
	ShutdownTimeout time.Duration

	Storage gcp.ObjectStorageConfig

	Folder          string
	VisualBible     bool
	MaxTags         int
	ClassifyTimeout time.Duration
	UploadTimeout   time.Duration
	StepTimeout     time.Duration
	MaxFileBytes    int64

	LabelsEnabled bool
	LoopsEnabled  bool
	FFmpegPath    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	CORSOrigins []string
	RosterPath  string
	Roster      media.Roster
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Addr:            envutil.String("HTTP_ADDR", ":8080"),
		Environment:     envutil.String("APP_ENV", "development"),
		Version:         envutil.String("APP_VERSION", "dev"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 30*time.Second),

		Folder:          envutil.String("INGEST_FOLDER", "visual-bible"),
		VisualBible:     envutil.Bool("INGEST_VISUAL_BIBLE", true),
		MaxTags:         envutil.Int("INGEST_MAX_TAGS", 8),
		ClassifyTimeout: envutil.Duration("INGEST_CLASSIFY_TIMEOUT", 60*time.Second),
		UploadTimeout:   envutil.Duration("INGEST_UPLOAD_TIMEOUT", 120*time.Second),
		StepTimeout:     envutil.Duration("INGEST_STEP_TIMEOUT", 30*time.Second),
		MaxFileBytes:    int64(envutil.Int("INGEST_MAX_FILE_MB", 200)) << 20,

		LabelsEnabled: envutil.Bool("VISION_LABELS_ENABLED", false),
		LoopsEnabled:  envutil.Bool("VIDEO_LOOPS_ENABLED", true),
		FFmpegPath:    envutil.String("FFMPEG_PATH", "ffmpeg"),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisChannel:  envutil.String("REDIS_EVENTS_CHANNEL", "ingest-events"),

		CORSOrigins: middleware.ParseOrigins(os.Getenv("CORS_ORIGINS")),
		RosterPath:  envutil.String("ROSTER_PATH", ""),
	}
	storage, err := gcp.ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Storage = storage

	roster, err := loadRoster(cfg.RosterPath)
	if err != nil {
		return cfg, err
	}
	cfg.Roster = roster
	log.Info("Config loaded",
		"addr", cfg.Addr,
		"storage_mode", cfg.Storage.Mode,
		"folder", cfg.Folder,
		"visual_bible", cfg.VisualBible,
		"agents", roster.Names(),
		"redis", cfg.RedisAddr != "",
	)
	return cfg, nil
}

// loadRoster reads the agent roster from YAML, or returns the built-in one when path is empty.
func loadRoster(path string) (media.Roster, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return media.DefaultRoster(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return media.Roster{}, fmt.Errorf("read roster %s: %w", path, err)
	}
	var r media.Roster
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return media.Roster{}, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if len(r.SlotRoles) == 0 {
		r.SlotRoles = media.DefaultRoster().SlotRoles
	}
	if err := r.Validate(); err != nil {
		return media.Roster{}, fmt.Errorf("roster %s: %w", path, err)
	}
	return r, nil
}
