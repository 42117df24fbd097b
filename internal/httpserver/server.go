package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiz-dev/hwtelemetry/internal/api"
	"github.com/aiz-dev/hwtelemetry/internal/config"
	"github.com/aiz-dev/hwtelemetry/internal/diagnostics"
	"github.com/aiz-dev/hwtelemetry/internal/procscan"
	"github.com/aiz-dev/hwtelemetry/internal/sampler"
	"github.com/aiz-dev/hwtelemetry/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
)

// DiagnosticsFunc produces the hardware report served at /api/diagnostics.
type DiagnosticsFunc func() diagnostics.Report

// ProcessLookup resolves a single process owned by the invoking user.
type ProcessLookup interface {
	Identity(pid int) (procscan.Identity, bool)
}

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	sampler     *sampler.Manager
	diagnostics DiagnosticsFunc
	processes   ProcessLookup

	requestDuration *prometheus.HistogramVec

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers. samplerManager, diag and procs
// may be nil; the affected routes then answer 503.
func New(cfg config.Config, logger *slog.Logger, samplerManager *sampler.Manager, diag DiagnosticsFunc, procs ProcessLookup) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		sampler:     samplerManager,
		diagnostics: diag,
		processes:   procs,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /api/readyz", s.handleReadyz)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/gpus", s.handleGPUs)
	mux.HandleFunc("GET /api/gpus/{index}", s.handleGPU)
	mux.HandleFunc("GET /api/processes", s.handleProcesses)
	mux.HandleFunc("GET /api/processes/{pid}", s.handleProcess)
	mux.HandleFunc("GET /api/timelines", s.handleTimelines)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleGPUs(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap.GPUs)
}

func (s *Server) handleGPU(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid gpu index", http.StatusBadRequest)
		return
	}
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	gpu, ok := snap.GPU(index)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, r, http.StatusOK, gpu)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Proc.Enable {
		http.Error(w, "process table disabled", http.StatusServiceUnavailable)
		return
	}
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap.Processes)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	if !s.cfg.Proc.Enable || s.processes == nil {
		http.Error(w, "process table disabled", http.StatusServiceUnavailable)
		return
	}
	identity, ok := s.processes.Identity(pid)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, r, http.StatusOK, identity)
}

func (s *Server) handleTimelines(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		http.Error(w, "sampler unavailable", http.StatusServiceUnavailable)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		series, ok := s.sampler.Timeline(name)
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.writeJSON(w, r, http.StatusOK, series)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.sampler.Timelines())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		http.Error(w, "diagnostics unavailable", http.StatusServiceUnavailable)
		return
	}
	report := s.diagnostics()
	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, r, http.StatusOK, report)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(report.Text())); err != nil {
		s.loggerFromContext(r.Context()).Warn("failed to write diagnostics", "err", err)
	}
}

// latest writes a 503 and returns false when no snapshot exists yet.
func (s *Server) latest(w http.ResponseWriter) (sampler.Snapshot, bool) {
	if s.sampler == nil {
		http.Error(w, "sampler unavailable", http.StatusServiceUnavailable)
		return sampler.Snapshot{}, false
	}
	snap, ok := s.sampler.Latest()
	if !ok {
		http.Error(w, "no sample available", http.StatusServiceUnavailable)
		return sampler.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.loggerFromContext(r.Context()).Warn("failed to write response", "err", err)
	}
}

func (s *Server) readiness() readyResponse {
	if s.sampler == nil {
		return readyResponse{Status: "degraded", Reason: "sampler_not_configured"}
	}
	snap, ok := s.sampler.Latest()
	if !ok {
		return readyResponse{Status: "initializing", Reason: "waiting_for_samples"}
	}
	return readyResponse{Status: "ok", GPUs: len(snap.GPUs), Sequence: snap.Sequence}
}

type readyResponse struct {
	Status   string `json:"status"`
	GPUs     int    `json:"gpus"`
	Sequence uint64 `json:"seq"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	s.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status code.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"route", "code"})
	collectors = append(collectors, s.requestDuration)

	if s.sampler != nil {
		collectors = append(collectors, newSnapshotCollector(s.sampler))
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

// helloFor describes the stream a new client is about to receive.
func (s *Server) helloFor() api.HelloMessage {
	var (
		gpuCount   int
		collectors []string
	)
	if s.sampler != nil {
		if snap, ok := s.sampler.Latest(); ok {
			gpuCount = len(snap.GPUs)
		}
		for _, series := range s.sampler.Timelines() {
			collectors = append(collectors, series.Name)
		}
	}
	features := map[string]bool{
		"procs":      s.cfg.Proc.Enable,
		"timelines":  s.cfg.TimelineCapacity > 0,
		"prometheus": s.cfg.EnablePrometheus,
	}
	return api.NewHelloMessage(int(s.cfg.SampleInterval/time.Millisecond), gpuCount, collectors, features)
}
