package httpserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const requestIDHeader = "X-Request-ID"

type loggerKey struct{}

// statusRecorder captures the response code and body size for access logs.
type statusRecorder struct {
	http.ResponseWriter
	code    int
	written int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.code == 0 {
		sr.code = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.code == 0 {
		sr.code = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

func (sr *statusRecorder) status() int {
	if sr.code == 0 {
		return http.StatusOK
	}
	return sr.code
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is needed by the websocket upgrade.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpserver: hijacking not supported")
	}
	return hj.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// quietRoutes are polled by probes and scrapers; their access lines go to
// debug.
var quietRoutes = map[string]bool{
	"GET /healthz":     true,
	"GET /readyz":      true,
	"GET /api/healthz": true,
	"GET /api/readyz":  true,
	"GET /metrics":     true,
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" || len(reqID) > 64 {
			reqID = strconv.FormatUint(s.requestIDs.Add(1), 10)
		}
		w.Header().Set(requestIDHeader, reqID)

		logger := s.logger.With("req_id", reqID, "method", r.Method, "path", r.URL.Path)
		if r.RemoteAddr != "" {
			logger = logger.With("remote_addr", r.RemoteAddr)
		}

		ctx := context.WithValue(r.Context(), loggerKey{}, logger)
		req := r.WithContext(ctx)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, req)

		elapsed := time.Since(start)
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		if s.requestDuration != nil {
			s.requestDuration.WithLabelValues(route, strconv.Itoa(rec.status())).Observe(elapsed.Seconds())
		}

		level := slog.LevelInfo
		if rec.status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		} else if quietRoutes[route] {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "request complete",
			"route", route,
			"status", rec.status(),
			"duration", elapsed,
			"bytes", rec.written,
		)
	})
}

func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return s.logger
}
