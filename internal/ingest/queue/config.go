package queue

import (
	"time"

	"github.com/yungbote/studio-ingest/internal/platform/envutil"
)

const MaxBatchSize = 50

type Config struct {
	// PoolSize bounds items in flight. Cooldown spaces consecutive dispatches
	// and is never applied before the first one.
	PoolSize int
	Cooldown time.Duration
	// Backoff delays the next dispatch after a rate-limited failure.
	Backoff     time.Duration
	MetricsTick time.Duration
	PruneDelay  time.Duration
	// Retention is how long a finished batch stays queryable.
	Retention time.Duration
	LogSize   int
	MaxBatch  int
}

func DefaultConfig() Config {
	return Config{
		PoolSize:    3,
		Cooldown:    1500 * time.Millisecond,
		Backoff:     30 * time.Second,
		MetricsTick: time.Second,
		PruneDelay:  5 * time.Second,
		Retention:   30 * time.Minute,
		LogSize:     200,
		MaxBatch:    MaxBatchSize,
	}
}

func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		PoolSize:    envutil.Int("INGEST_POOL_SIZE", d.PoolSize),
		Cooldown:    envutil.Duration("INGEST_COOLDOWN", d.Cooldown),
		Backoff:     envutil.Duration("INGEST_BACKOFF", d.Backoff),
		MetricsTick: envutil.Duration("INGEST_METRICS_TICK", d.MetricsTick),
		PruneDelay:  envutil.Duration("INGEST_PRUNE_DELAY", d.PruneDelay),
		Retention:   envutil.Duration("INGEST_BATCH_RETENTION", d.Retention),
		LogSize:     envutil.Int("INGEST_LOG_SIZE", d.LogSize),
		MaxBatch:    envutil.Int("INGEST_MAX_BATCH", d.MaxBatch),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize < 1 {
		c.PoolSize = d.PoolSize
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.MetricsTick <= 0 {
		c.MetricsTick = d.MetricsTick
	}
	if c.PruneDelay <= 0 {
		c.PruneDelay = d.PruneDelay
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.LogSize < 1 {
		c.LogSize = d.LogSize
	}
	if c.MaxBatch < 1 || c.MaxBatch > MaxBatchSize {
		c.MaxBatch = MaxBatchSize
	}
	return c
}
