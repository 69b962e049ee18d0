package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCollector_CounterAndGauge(t *testing.T) {
	c := NewMetricsCollector()
	ctr := c.Counter("test_total", "help", Label("kind", "a"))
	ctr.Inc()
	ctr.Add(2)
	if c.Counter("test_total", "help", Label("kind", "a")) != ctr {
		t.Fatal("same name and labels should return the same counter")
	}

	g := c.Gauge("test_gauge", "help", "")
	g.Set(5)
	g.Dec()

	out := c.Render()
	for _, want := range []string{
		"# TYPE test_total counter",
		`test_total{kind="a"} 3`,
		"test_gauge 4",
		"netopsbot_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestCollector_RenderIsSorted(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "b", "").Inc()
	c.Counter("a_total", "a", "").Inc()

	out := c.Render()
	if strings.Index(out, "a_total") > strings.Index(out, "b_total") {
		t.Fatalf("counters not sorted:\n%s", out)
	}
}

func TestHistogram_Render(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "latency", Label("backend", "netconf"), []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)
	h.Observe(3)

	out := c.Render()
	for _, want := range []string{
		`lat_seconds_bucket{backend="netconf",le="0.5"} 1`,
		`lat_seconds_bucket{backend="netconf",le="1"} 2`,
		`lat_seconds_bucket{backend="netconf",le="+Inf"} 3`,
		`lat_seconds_count{backend="netconf"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestLabel_Escapes(t *testing.T) {
	if got := Label("msg", `a"b`); got != `msg="a\"b"` {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestCommandDispatched(t *testing.T) {
	CommandDispatched("", "showrun", true, 1500*time.Millisecond)
	CommandDispatched("netconf", "create", false, 200*time.Millisecond)
	UserError("unknown_command")

	out := Collector.Render()
	for _, want := range []string{
		`netopsbot_commands_total{protocol="none",action="showrun",outcome="success"}`,
		`netopsbot_commands_total{protocol="netconf",action="create",outcome="failure"}`,
		`netopsbot_backend_latency_seconds_bucket{protocol="none",action="showrun",le="2"}`,
		`netopsbot_user_errors_total{kind="unknown_command"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q", want)
		}
	}
}

func TestServe_ExposesEndpoint(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("served_total", "served", "").Inc()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, "/metrics", c, slog.New(slog.DiscardHandler)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "served_total 1") {
		t.Fatalf("unexpected body:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
