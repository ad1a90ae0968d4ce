package observability

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/studio-ingest/internal/platform/envutil"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

// Metrics is a Prometheus text-exposition registry for the ingest service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	itemsTotal    *CounterVec
	itemDuration  *HistogramVec
	stageLatency  *HistogramVec
	bytesUploaded *Counter
	poolBusy      *Gauge
	backoffTotal  *Counter

	catalogRows *GaugeVec
	redisUp     *Gauge
	redisPing   *Gauge
	scrapeEvery time.Duration
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New builds an unregistered Metrics; tests use it directly.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("ingest_api_requests_total", "HTTP requests by method, route and status.", []string{"method", "route", "status"}),
		apiLatency:  NewHistogramVec("ingest_api_request_duration_seconds", "HTTP request latency.", []string{"method", "route", "status"}, nil),
		apiInflight: NewGauge("ingest_api_inflight_requests", "HTTP requests in flight."),

		itemsTotal:    NewCounterVec("ingest_items_total", "Ingest items reaching a terminal state.", []string{"state", "failure_class"}),
		itemDuration:  NewHistogramVec("ingest_item_duration_seconds", "Time from dispatch to terminal state.", []string{"state"}, []float64{1, 2, 5, 10, 20, 40, 80, 160}),
		stageLatency:  NewHistogramVec("ingest_stage_duration_seconds", "Latency of each reconcile stage.", []string{"stage", "status"}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}),
		bytesUploaded: NewCounter("ingest_bytes_uploaded_total", "Payload bytes that reached provisional storage."),
		poolBusy:      NewGauge("ingest_pool_busy_workers", "Workers currently holding an item."),
		backoffTotal:  NewCounter("ingest_backoff_total", "Dispatch pauses caused by throttled upstream responses."),

		catalogRows: NewGaugeVec("ingest_catalog_rows", "Catalog row counts.", []string{"table"}),
		redisUp:     NewGauge("ingest_redis_up", "1 when the event bus answered the last ping."),
		redisPing:   NewGauge("ingest_redis_ping_seconds", "Last event bus ping latency."),
		scrapeEvery: envutil.Duration("METRICS_SCRAPE_INTERVAL", 10*time.Second),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []collector{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.itemsTotal, m.itemDuration, m.stageLatency, m.bytesUploaded, m.poolBusy, m.backoffTotal,
		m.catalogRows, m.redisUp, m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveItem records an item reaching complete or failed.
func (m *Metrics) ObserveItem(state, failureClass string, dur time.Duration) {
	if m == nil {
		return
	}
	if failureClass == "" {
		failureClass = "none"
	}
	m.itemsTotal.Inc(state, failureClass)
	m.itemDuration.Observe(dur.Seconds(), state)
}

func (m *Metrics) ObserveStage(stage string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageLatency.Observe(dur.Seconds(), stage, status)
}

func (m *Metrics) AddBytesUploaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesUploaded.Add(float64(n))
}

func (m *Metrics) SetPoolBusy(n int) {
	if m == nil {
		return
	}
	m.poolBusy.Set(float64(n))
}

func (m *Metrics) IncBackoff() {
	if m == nil {
		return
	}
	m.backoffTotal.Inc()
}

// StartCatalogCollector samples row counts of the given tables on the scrape interval.
func (m *Metrics) StartCatalogCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, tables ...string) {
	if m == nil || db == nil || len(tables) == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, table := range tables {
					var n int64
					if err := db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
						if log != nil {
							log.Warn("metrics: catalog count failed", "table", table, "error", err)
						}
						continue
					}
					m.catalogRows.Set(float64(n), table)
				}
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
