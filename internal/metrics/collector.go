// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for netopsbot. It outputs text/plain in Prometheus exposition format
// without requiring the heavy prometheus/client_golang dependency.
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
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
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

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Label renders one Prometheus label pair with the value quoted and escaped.
func Label(name, value string) string {
	return fmt.Sprintf("%s=%q", name, value)
}

// --- Prometheus text rendering ---

// sortedValues returns the map's values ordered by key so output is stable.
func sortedValues[T any](m *sync.Map) []T {
	var keys []string
	vals := make(map[string]T)
	m.Range(func(key, value any) bool {
		k := key.(string)
		keys = append(keys, k)
		vals[k] = value.(T)
		return true
	})
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, vals[k])
	}
	return out
}

// Render writes every metric in Prometheus text format.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP netopsbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE netopsbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "netopsbot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	for _, ctr := range sortedValues[*Counter](&c.counters) {
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		if ctr.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
		} else {
			fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
		}
	}

	helpWritten = make(map[string]bool)
	for _, g := range sortedValues[*Gauge](&c.gauges) {
		if !helpWritten[g.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			helpWritten[g.name] = true
		}
		if g.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", g.name, g.labels, g.Value())
		} else {
			fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
		}
	}

	helpWritten = make(map[string]bool)
	for _, h := range sortedValues[*Histogram](&c.histograms) {
		h.render(&sb, !helpWritten[h.name])
		helpWritten[h.name] = true
	}
	return sb.String()
}

func (h *Histogram) render(sb *strings.Builder, withHelp bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if withHelp {
		fmt.Fprintf(sb, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(sb, "# TYPE %s histogram\n", h.name)
	}
	prefix := h.name + "_bucket{"
	if h.labels != "" {
		prefix += h.labels + ","
	}
	for _, b := range h.buckets {
		le := fmt.Sprintf("%g", b.le)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
	}
	fmt.Fprintf(sb, "%sle=\"+Inf\"} %d\n", prefix, h.count)
	if h.labels != "" {
		fmt.Fprintf(sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
		fmt.Fprintf(sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
	} else {
		fmt.Fprintf(sb, "%s_count %d\n", h.name, h.count)
		fmt.Fprintf(sb, "%s_sum %f\n", h.name, h.sum)
	}
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// --- Pre-defined metrics used across the application ---

var (
	MessagesTotal   = Collector.Counter("netopsbot_messages_total", "Total chat messages received", "")
	IgnoredTotal    = Collector.Counter("netopsbot_messages_ignored_total", "Messages without the command prefix", "")
	SendsTotal      = Collector.Counter("netopsbot_sends_total", "Total replies sent", "")
	AttachmentsSent = Collector.Counter("netopsbot_attachments_total", "Replies carrying a file attachment", "")
)

var backendBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// UserError counts a rejected command by error kind.
func UserError(kind string) {
	Collector.Counter("netopsbot_user_errors_total", "Commands rejected before dispatch", Label("kind", kind)).Inc()
}

// CommandDispatched counts one routed command and records the adapter latency.
func CommandDispatched(protocol, action string, ok bool, elapsed time.Duration) {
	if protocol == "" {
		protocol = "none"
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	labels := Label("protocol", protocol) + "," + Label("action", action)
	Collector.Counter("netopsbot_commands_total", "Commands dispatched to a backend",
		labels+","+Label("outcome", outcome)).Inc()
	Collector.Histogram("netopsbot_backend_latency_seconds", "Backend operation latency in seconds",
		labels, append([]float64(nil), backendBuckets...)).Observe(elapsed.Seconds())
}
