// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the relay. It renders text/plain in Prometheus exposition
// format without pulling in the prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewCollector()

type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(name, &Counter{name: name, help: help})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(name, &Gauge{name: name, help: help})
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given bucket boundaries.
func (c *MetricsCollector) Histogram(name, help string, buckets []float64) *Histogram {
	if v, ok := c.histograms.Load(name); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(name, &Histogram{name: name, help: help, buckets: hb})
	return actual.(*Histogram)
}

// Handler renders all registered metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP warelay_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE warelay_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "warelay_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		c.counters.Range(func(_, value any) bool {
			ctr := value.(*Counter)
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			return true
		})

		c.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			return true
		})

		c.histograms.Range(func(_, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()

			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, le, b.count)
			}
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// --- Pre-defined metrics used across the relay ---

var (
	EventsReceived    = Collector.Counter("warelay_events_received_total", "Total webhook events received")
	MessagesForwarded = Collector.Counter("warelay_messages_forwarded_total", "Total messages forwarded downstream")
	StatusesForwarded = Collector.Counter("warelay_statuses_forwarded_total", "Total statuses forwarded downstream")
	ForwardFailures   = Collector.Counter("warelay_forward_failures_total", "Total downstream forwarding failures")
	DuplicateMessages = Collector.Counter("warelay_duplicate_messages_total", "Total duplicate message ids observed")
	ProxyRequests     = Collector.Counter("warelay_proxy_requests_total", "Total outbound proxy requests")

	ForwardLatency = Collector.Histogram("warelay_forward_latency_seconds", "Downstream forward latency in seconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
)
