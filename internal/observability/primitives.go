package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type collector interface {
	WritePrometheus(w io.Writer) error
}

func writeHeader(w io.Writer, name, help, kind string) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", name, help); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	return err
}

// labeled is the shared storage for counter and gauge vectors.
type labeled struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func (l *labeled) add(v float64, values []string) {
	lbl := labelString(l.labelNames, values)
	l.mu.Lock()
	l.values[lbl] += v
	l.mu.Unlock()
}

func (l *labeled) set(v float64, values []string) {
	lbl := labelString(l.labelNames, values)
	l.mu.Lock()
	l.values[lbl] = v
	l.mu.Unlock()
}

func (l *labeled) get(values ...string) float64 {
	lbl := labelString(l.labelNames, values)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.values[lbl]
}

func (l *labeled) write(w io.Writer, kind string) error {
	if err := writeHeader(w, l.name, l.help, kind); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.values))
	for k := range l.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", l.name, k, l.values[k]); err != nil {
			return err
		}
	}
	return nil
}

type CounterVec struct{ labeled }

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{labeled{name: name, help: help, labelNames: labels, values: map[string]float64{}}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	c.add(1, values)
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil || v < 0 {
		return
	}
	c.add(v, values)
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	return c.get(values...)
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	return c.write(w, "counter")
}

type GaugeVec struct{ labeled }

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{labeled{name: name, help: help, labelNames: labels, values: map[string]float64{}}}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	g.set(v, values)
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.write(w, "gauge")
}

// scalar backs Counter and Gauge, which carry no labels.
type scalar struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func (s *scalar) add(v float64) {
	s.mu.Lock()
	s.val += v
	s.mu.Unlock()
}

func (s *scalar) value() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val
}

func (s *scalar) write(w io.Writer, kind string) error {
	if err := writeHeader(w, s.name, s.help, kind); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s %g\n", s.name, s.value())
	return err
}

type Counter struct{ scalar }

func NewCounter(name, help string) *Counter {
	return &Counter{scalar{name: name, help: help}}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.add(1)
}

func (c *Counter) Add(v float64) {
	if c == nil || v < 0 {
		return
	}
	c.add(v)
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	return c.value()
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	return c.write(w, "counter")
}

type Gauge struct{ scalar }

func NewGauge(name, help string) *Gauge {
	return &Gauge{scalar{name: name, help: help}}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.add(1)
}

func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.add(-1)
}

func (g *Gauge) Value() float64 {
	if g == nil {
		return 0
	}
	return g.value()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.write(w, "gauge")
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	counts []uint64
	sum    float64
	total  uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{counts: make([]uint64, len(h.buckets))}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range h.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
}

// Count returns how many observations carry the given labels.
func (h *HistogramVec) Count(values ...string) uint64 {
	if h == nil {
		return 0
	}
	lbl := labelString(h.labelNames, values)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if hist, ok := h.values[lbl]; ok {
		return hist.total
	}
	return 0
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if err := writeHeader(w, h.name, h.help, "histogram"); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := h.values[k]
		for i, b := range h.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.total); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %g\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(names))
	for i, name := range names {
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		parts = append(parts, name+"=\""+escapeLabel(val)+"\"")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
}
