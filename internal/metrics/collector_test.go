package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_CounterReuse(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", "")
	a.Inc()
	b := c.Counter("x_total", "x", "")
	b.Add(2)
	assert.Same(t, a, b)
	assert.Equal(t, int64(3), a.Value())
}

func TestCollector_Handler(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "b help", "").Inc()
	c.Counter("a_total", "a help", `bot="tg"`).Add(4)
	c.Gauge("g", "g help", "").Set(7)
	h := c.Histogram("lat_seconds", "lat", "", []float64{1, math.Inf(1)})
	h.Observe(0.5)
	h.Observe(3)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, body, "hookbridge_uptime_seconds")
	assert.Contains(t, body, `a_total{bot="tg"} 4`)
	assert.Contains(t, body, "b_total 1")
	assert.Contains(t, body, "g 7")
	assert.Contains(t, body, `lat_seconds_bucket{le="1"} 1`)
	assert.Contains(t, body, `lat_seconds_bucket{le="+Inf"} 2`)
	assert.Contains(t, body, "lat_seconds_count 2")
	assert.Less(t, strings.Index(body, "a_total"), strings.Index(body, "b_total"))
}

func TestCollector_HistogramSeries(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("render_seconds", "render", `kind="text"`, []float64{0.05, 1})
	h.Observe(0.03125)
	h.Observe(0.5)
	h.Observe(9)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "# TYPE render_seconds histogram")
	assert.Contains(t, body, `render_seconds_bucket{kind="text",le="0.05"} 1`)
	assert.Contains(t, body, `render_seconds_bucket{kind="text",le="1"} 2`)
	assert.Contains(t, body, `render_seconds_bucket{kind="text",le="+Inf"} 3`)
	assert.Contains(t, body, `render_seconds_count{kind="text"} 3`)
	assert.Contains(t, body, `render_seconds_sum{kind="text"} 9.53125`)
	assert.NotContains(t, body, "{_bucket")
}
