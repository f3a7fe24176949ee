// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for hookbridge. It outputs text/plain in Prometheus exposition
// format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
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

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		writeHeader(&sb, "hookbridge_uptime_seconds", "Time since start in seconds", "gauge")
		fmt.Fprintf(&sb, "hookbridge_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		seen := make(map[string]bool)
		rangeSorted(&c.counters, func(value any) {
			ctr := value.(*Counter)
			if !seen[ctr.name] {
				writeHeader(&sb, ctr.name, ctr.help, "counter")
				seen[ctr.name] = true
			}
			fmt.Fprintf(&sb, "%s%s %d\n", ctr.name, labelSet(ctr.labels), ctr.Value())
		})

		seen = make(map[string]bool)
		rangeSorted(&c.gauges, func(value any) {
			g := value.(*Gauge)
			if !seen[g.name] {
				writeHeader(&sb, g.name, g.help, "gauge")
				seen[g.name] = true
			}
			fmt.Fprintf(&sb, "%s%s %d\n", g.name, labelSet(g.labels), g.Value())
		})

		seen = make(map[string]bool)
		rangeSorted(&c.histograms, func(value any) {
			h := value.(*Histogram)
			if !seen[h.name] {
				writeHeader(&sb, h.name, h.help, "histogram")
				seen[h.name] = true
			}
			h.writeTo(&sb)
		})

		fmt.Fprint(w, sb.String())
	}
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

// labelSet renders labels with any extra pairs appended, or "" when empty.
func labelSet(labels string, extra ...string) string {
	pairs := make([]string, 0, 1+len(extra))
	if labels != "" {
		pairs = append(pairs, labels)
	}
	pairs = append(pairs, extra...)
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// writeTo renders the bucket, count and sum series of h. Bucket counts are
// cumulative as observed; a +Inf bucket is always present.
func (h *Histogram) writeTo(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hasInf := false
	for _, b := range h.buckets {
		le := strconv.FormatFloat(b.le, 'g', -1, 64)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
			hasInf = true
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labelSet(h.labels, `le="`+le+`"`), b.count)
	}
	if !hasInf {
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labelSet(h.labels, `le="+Inf"`), h.count)
	}
	fmt.Fprintf(sb, "%s_count%s %d\n", h.name, labelSet(h.labels), h.count)
	fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, labelSet(h.labels), strconv.FormatFloat(h.sum, 'g', -1, 64))
}

// rangeSorted visits the entries of m in key order so scrapes are stable.
func rangeSorted(m *sync.Map, fn func(value any)) {
	var keys []string
	values := make(map[string]any)
	m.Range(func(key, value any) bool {
		k := key.(string)
		keys = append(keys, k)
		values[k] = value
		return true
	})
	sort.Strings(keys)
	for _, k := range keys {
		fn(values[k])
	}
}

// --- Pre-defined metrics used across the application ---

var (
	WebhookRequests = Collector.Counter("hookbridge_webhook_requests_total", "Webhook requests accepted", "")
	HeaderRejects   = Collector.Counter("hookbridge_webhook_header_rejects_total", "Webhook requests rejected by the header gate", "")
	TemplateErrors  = Collector.Counter("hookbridge_template_errors_total", "Templates that failed to parse or execute", "")
	EmptyMessages   = Collector.Counter("hookbridge_empty_messages_total", "Rendered messages that were empty and not sent", "")

	TextImageRenders  = Collector.Counter("hookbridge_text_image_renders_total", "Text-to-image renders attempted", "")
	TextImageFailures = Collector.Counter("hookbridge_text_image_failures_total", "Text-to-image renders that fell back to text", "")
	EmojiFailures     = Collector.Counter("hookbridge_emoji_failures_total", "Emoji graphemes left unsubstituted", "")

	Deliveries       = Collector.Counter("hookbridge_deliveries_total", "Messages sent to a destination", "")
	DeliveryFailures = Collector.Counter("hookbridge_delivery_failures_total", "Sends that returned an error", "")
	ConnectedBots    = Collector.Gauge("hookbridge_connected_bots", "Bots currently connected", "")

	TextImageLatency = Collector.Histogram("hookbridge_text_image_latency_seconds", "Text-to-image render latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, math.Inf(1)})
	RelayLatency = Collector.Histogram("hookbridge_relay_latency_seconds", "Webhook handling latency in seconds", "",
		[]float64{0.05, 0.1, 0.5, 1, 5, 15, math.Inf(1)})
)
