package httpx

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// cors lets browser collectors on other origins post batches.
func (r *Router) cors(next http.HandlerFunc) http.HandlerFunc {
	origin := r.cfg.AllowedOrigin
	return func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if origin != "*" {
			h.Add("Vary", "Origin")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, req)
	}
}

// observed logs one line per request and feeds the request metrics.
func (r *Router) observed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rec := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(rec, req)
		took := time.Since(start)

		status := rec.statusOr(http.StatusOK)
		r.metrics.observe(req.Method, route, status, took)

		attrs := []any{
			"method", req.Method,
			"route", route,
			"path", req.URL.Path,
			"status", status,
			"bytes", rec.written,
			"duration_ms", took.Milliseconds(),
			"ip", clientIP(req),
		}
		if id := strings.TrimSpace(req.Header.Get("X-Request-ID")); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http request", attrs...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http request", attrs...)
		default:
			r.logger.Debug("http request", attrs...)
		}
	}
}

// responseRecorder captures the status and size of a response. It forwards
// Flush for server-sent events and Hijack for websocket upgrades.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *responseRecorder) statusOr(fallback int) int {
	if rec.status == 0 {
		return fallback
	}
	return rec.status
}

func (rec *responseRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

func (rec *responseRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil && rec.status == 0 {
		rec.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}
