package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRender_CountersGaugesHistograms(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("linebot_test_total", "test counter", "").Add(3)
	c.Counter("linebot_kind_total", "by kind", `kind="text"`).Inc()
	c.Gauge("linebot_test_gauge", "test gauge", "").Set(7)
	h := c.Histogram("linebot_test_seconds", "test histogram", "", []float64{1, 5})
	h.Observe(0.5)
	h.Observe(3)

	out := c.Render()
	for _, want := range []string{
		"# TYPE linebot_test_total counter",
		"linebot_test_total 3",
		`linebot_kind_total{kind="text"} 1`,
		"linebot_test_gauge 7",
		`linebot_test_seconds_bucket{le="1"} 1`,
		`linebot_test_seconds_bucket{le="5"} 2`,
		`linebot_test_seconds_bucket{le="+Inf"} 2`,
		"linebot_test_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("linebot_x_total", "x", `kind="a"`)
	b := c.Counter("linebot_x_total", "x", `kind="a"`)
	if a != b {
		t.Fatal("expected the same counter for the same name and labels")
	}
	if c.Counter("linebot_x_total", "x", `kind="b"`) == a {
		t.Fatal("different labels must yield a different counter")
	}
}

func TestHandler_ContentType(t *testing.T) {
	c := NewMetricsCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "linebot_uptime_seconds") {
		t.Fatal("expected uptime gauge")
	}
}
