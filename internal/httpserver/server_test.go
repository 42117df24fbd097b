package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aiz-dev/hwtelemetry/internal/config"
	"github.com/aiz-dev/hwtelemetry/internal/diagnostics"
	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/metrics"
	"github.com/aiz-dev/hwtelemetry/internal/procscan"
	"github.com/aiz-dev/hwtelemetry/internal/sampler"
	"github.com/aiz-dev/hwtelemetry/internal/version"
)

type constCollector struct {
	name  string
	value float64
}

func (c constCollector) Name() string { return c.name }

func (c constCollector) Sample() (metrics.Sample, bool) {
	return metrics.Sample{Value: c.value, Unit: metrics.UnitPercent, Label: "avg"}, true
}

type fakeGPUs struct{}

func (fakeGPUs) SampleAll() []gputelemetry.Telemetry {
	util, temp := 37.0, 64.0
	return []gputelemetry.Telemetry{{Index: 0, Name: "Test GPU", Vendor: "nvidia", UtilPct: &util, TempC: &temp, Source: "nvml"}}
}

type fakeProcesses struct{}

func (fakeProcesses) SampleTop(int) []procscan.ProcessInfo {
	return []procscan.ProcessInfo{{PID: 7, Name: "ollama", CPUPct: 3}}
}

func (fakeProcesses) Identity(pid int) (procscan.Identity, bool) {
	if pid != 7 {
		return procscan.Identity{}, false
	}
	return procscan.Identity{Name: "ollama", Cmdline: "ollama serve", RAMBytes: 1 << 30}, true
}

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	for _, path := range []string{"/healthz", "/api/healthz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
		if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
			t.Fatalf("unexpected body %q", string(body))
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing request id header")
		}
	}
}

func TestRequestIDPropagated(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-42" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestHealthzRejectsPost(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)
	resp, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestReadyzStates(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)
	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "sampler_not_configured")

	manager := newTestManager(t, time.Hour)
	_, tsInit := newTestHTTPServer(t, defaultTestConfig(), manager, nil)
	assertReadyz(t, tsInit.URL+"/api/readyz", http.StatusServiceUnavailable, "initializing", "waiting_for_samples")

	startManager(t, manager)
	assertReadyz(t, tsInit.URL+"/readyz", http.StatusOK, "ok", "")
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	version.Set(version.Info{Version: "v0.0.1", Commit: "abc123", BuildTime: "now"})

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	var info version.Info
	getJSON(t, ts.URL+"/api/version", http.StatusOK, &info)
	if info.Version != "v0.0.1" || info.Commit != "abc123" || info.BuildTime != "now" {
		t.Fatalf("unexpected version payload %+v", info)
	}
}

func TestSnapshotRoutes(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, 5*time.Millisecond)
	startManager(t, manager)
	_, ts := newTestHTTPServer(t, defaultTestConfig(), manager, nil)

	var snap sampler.Snapshot
	getJSON(t, ts.URL+"/api/snapshot", http.StatusOK, &snap)
	metric, ok := snap.Metric("cpu")
	if !ok || metric.Value == nil || *metric.Value != 25 {
		t.Fatalf("unexpected cpu metric %+v", metric)
	}

	var gpus []gputelemetry.Telemetry
	getJSON(t, ts.URL+"/api/gpus", http.StatusOK, &gpus)
	if len(gpus) != 1 || gpus[0].Name != "Test GPU" {
		t.Fatalf("unexpected gpu list %+v", gpus)
	}

	var one gputelemetry.Telemetry
	getJSON(t, ts.URL+"/api/gpus/0", http.StatusOK, &one)
	if one.UtilPct == nil || *one.UtilPct != 37 || one.PowerWatts != nil {
		t.Fatalf("unexpected gpu %+v", one)
	}
	getJSON(t, ts.URL+"/api/gpus/4", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/api/gpus/first", http.StatusBadRequest, nil)

	var procs []procscan.ProcessInfo
	getJSON(t, ts.URL+"/api/processes", http.StatusOK, &procs)
	if len(procs) != 1 || procs[0].Name != "ollama" {
		t.Fatalf("unexpected processes %+v", procs)
	}

	var identity procscan.Identity
	getJSON(t, ts.URL+"/api/processes/7", http.StatusOK, &identity)
	if identity.Cmdline != "ollama serve" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	getJSON(t, ts.URL+"/api/processes/8", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/api/processes/-3", http.StatusBadRequest, nil)
}

func TestGPUJSONUsesNullForMissingFields(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, 5*time.Millisecond)
	startManager(t, manager)
	_, ts := newTestHTTPServer(t, defaultTestConfig(), manager, nil)

	var raw map[string]any
	getJSON(t, ts.URL+"/api/gpus/0", http.StatusOK, &raw)
	value, present := raw["power_watts"]
	if !present || value != nil {
		t.Fatalf("expected power_watts to be null, got %v (present=%v)", value, present)
	}
}

func TestTimelinesEndpoint(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, 5*time.Millisecond)
	startManager(t, manager)
	waitFor(t, 2*time.Second, func() bool {
		s, _ := manager.Timeline("cpu")
		return len(s.Values) > 0
	})
	_, ts := newTestHTTPServer(t, defaultTestConfig(), manager, nil)

	var all []sampler.Series
	getJSON(t, ts.URL+"/api/timelines", http.StatusOK, &all)
	if len(all) != 1 || all[0].Name != "cpu" {
		t.Fatalf("unexpected series %+v", all)
	}

	var one sampler.Series
	getJSON(t, ts.URL+"/api/timelines?name=cpu", http.StatusOK, &one)
	if one.Max == nil || *one.Max != 25 {
		t.Fatalf("unexpected series max %+v", one.Max)
	}
	getJSON(t, ts.URL+"/api/timelines?name=disk_read", http.StatusNotFound, nil)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	t.Parallel()

	diag := func() diagnostics.Report {
		return diagnostics.Report{
			CPU:      diagnostics.CPUInfo{Brand: "Test CPU", PhysicalCores: 4, LogicalCores: 8},
			Backends: []diagnostics.BackendStatus{{Name: "nvml", Detail: "NVML library not found"}},
		}
	}
	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, diag)

	resp, err := http.Get(ts.URL + "/api/diagnostics")
	if err != nil {
		t.Fatalf("GET diagnostics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "NVML library not found") {
		t.Fatalf("diagnostics text missing backend detail: %s", body)
	}

	var report diagnostics.Report
	getJSON(t, ts.URL+"/api/diagnostics?format=json", http.StatusOK, &report)
	if report.CPU.Brand != "Test CPU" {
		t.Fatalf("unexpected report %+v", report.CPU)
	}
}

func TestPrometheusExportsSnapshot(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, 5*time.Millisecond)
	startManager(t, manager)
	cfg := defaultTestConfig()
	cfg.EnablePrometheus = true
	_, ts := newTestHTTPServer(t, cfg, manager, nil)
	getJSON(t, ts.URL+"/api/version", http.StatusOK, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	text := string(body)
	for _, want := range []string{
		`hwtelemetry_collector_value{collector="cpu",unit="%"} 25`,
		`hwtelemetry_gpu_utilization_percent{index="0",name="Test GPU",source="nvml",vendor="nvidia"} 37`,
		`hwtelemetry_gpu_temperature_celsius{index="0",name="Test GPU",source="nvml",vendor="nvidia"} 64`,
		"hwtelemetry_ws_active_connections 0",
		`hwtelemetry_http_request_duration_seconds_count{code="200",route="GET /api/version"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "hwtelemetry_gpu_power_watts{") {
		t.Fatalf("missing power reading should not be exported")
	}
}

func TestWebSocketHelloAndSnapshots(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, 5*time.Millisecond)
	startManager(t, manager)
	cfg := defaultTestConfig()
	cfg.SampleInterval = 5 * time.Millisecond
	_, ts := newTestHTTPServer(t, cfg, manager, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readMessage(ctx, t, conn)
	if hello["type"] != "hello" {
		t.Fatalf("expected hello message, got %v", hello["type"])
	}
	if hello["interval_ms"] != float64(5) || hello["gpu_count"] != float64(1) {
		t.Fatalf("unexpected hello payload %v", hello)
	}

	snap := readMessage(ctx, t, conn)
	if snap["type"] != "snapshot" {
		t.Fatalf("expected snapshot message, got %v", snap["type"])
	}
	if _, ok := snap["metrics"].([]any); !ok {
		t.Fatalf("snapshot metrics missing or wrong type")
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	for {
		msg := readMessage(ctx, t, conn)
		if msg["type"] == "pong" {
			break
		}
		if msg["type"] != "snapshot" {
			t.Fatalf("unexpected message %v", msg)
		}
	}
}

func TestWebSocketCapacity(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, 5*time.Millisecond)
	cfg := defaultTestConfig()
	cfg.WS.MaxClients = 1
	srv, ts := newTestHTTPServer(t, cfg, manager, nil)

	if !srv.reserveWS() {
		t.Fatal("first reservation should succeed")
	}
	defer srv.releaseWS()

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 at capacity, got %d", resp.StatusCode)
	}
	if srv.wsRejected.Load() != 1 {
		t.Fatalf("rejection not counted")
	}
}

func TestOutboundDropsOldest(t *testing.T) {
	t.Parallel()

	var drops atomic.Uint64
	out := newWSOutbound(2, &drops)
	for _, msg := range []string{"a", "b", "c"} {
		if !out.enqueue([]byte(msg)) {
			t.Fatalf("enqueue %q failed", msg)
		}
	}
	if got := string(<-out.channel()); got != "b" {
		t.Fatalf("expected oldest to be dropped, got %q first", got)
	}
	if drops.Load() != 1 {
		t.Fatalf("expected one drop, got %d", drops.Load())
	}
	out.close()
	if out.enqueue([]byte("d")) {
		t.Fatal("enqueue after close should fail")
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	if got := originPatterns([]string{"example.com", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard should collapse, got %v", got)
	}
	if got := originPatterns([]string{"a.test", "b.test"}); len(got) != 2 {
		t.Fatalf("unexpected patterns %v", got)
	}
}

func newTestManager(t *testing.T, interval time.Duration) *sampler.Manager {
	t.Helper()
	manager, err := sampler.NewManager(sampler.Options{
		Interval:         interval,
		TimelineCapacity: 16,
		Collectors:       []metrics.Collector{constCollector{name: "cpu", value: 25}},
		GPUs:             fakeGPUs{},
		Processes:        fakeProcesses{},
		TopN:             5,
	}, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager
}

func startManager(t *testing.T, manager *sampler.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = manager.Run(ctx) }()
	waitFor(t, 2*time.Second, manager.Ready)
}

func newTestHTTPServer(t *testing.T, cfg config.Config, manager *sampler.Manager, diag DiagnosticsFunc) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, manager, diag, fakeProcesses{})
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func defaultTestConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.WS.ReadTimeout = time.Second
	cfg.WS.WriteTimeout = time.Second
	return cfg
}

func getJSON(t *testing.T, url string, wantStatus int, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d for %s, got %d", wantStatus, url, resp.StatusCode)
	}
	if into == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func assertReadyz(t *testing.T, url string, expectedStatus int, expected string, reason string) {
	t.Helper()

	var payload readyResponse
	getJSON(t, url, expectedStatus, &payload)

	if payload.Status != expected {
		t.Fatalf("expected status %q, got %q", expected, payload.Status)
	}
	if payload.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, payload.Reason)
	}
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type %v", msgType)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func toWebsocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
