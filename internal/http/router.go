package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utpal16raj09/PerformaMeter/internal/relay"
	"github.com/utpal16raj09/PerformaMeter/internal/ws"
	"github.com/utpal16raj09/PerformaMeter/pkg/aggregate"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

const (
	readsPerMinute      = 240
	streamsPerMinute    = 30
	defaultMaxBodyBytes = 4 << 20
)

// Config tunes the relay's HTTP surface.
type Config struct {
	// IngestRateLimit caps POST /api/metrics per client per minute. Zero disables it.
	IngestRateLimit int
	// WSRateLimit caps websocket upgrades per client per minute. Zero disables it.
	WSRateLimit   int
	MaxBodyBytes  int64
	AllowedOrigin string
	// Location buckets heatmap hours. Nil means time.Local.
	Location   *time.Location
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Router serves the relay's HTTP and websocket endpoints.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	relay    *relay.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	metrics  *httpMetrics
	cfg      Config
}

// NewRouter wires the relay service behind its HTTP routes. A nil limiter
// uses an in-process one.
func NewRouter(logger *slog.Logger, svc *relay.Service, limiter RateLimiter, cfg Config) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger.With("component", "http"),
		relay:   svc,
		limiter: limiter,
		metrics: newHTTPMetrics(cfg.Registerer),
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.routes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close stops the rate limiter.
func (r *Router) Close() {
	r.limiter.Close()
}

func (r *Router) routes() {
	ingest := r.limited("/api/metrics", r.cfg.IngestRateLimit, r.handleIngest)
	upgrade := r.limited("/ws", r.cfg.WSRateLimit, r.handleWS)

	r.mux.HandleFunc("/", r.observed("/", r.handleRoot(upgrade)))
	r.mux.HandleFunc("/ws", r.observed("/ws", upgrade))
	r.mux.HandleFunc("/healthz", r.observed("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/api/metrics", r.observed("/api/metrics", r.cors(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			ingest(w, req)
		case http.MethodGet:
			r.handleList(w, req)
		default:
			methodNotAllowed(w)
		}
	})))
	r.mux.HandleFunc("/api/summary", r.observed("/api/summary", r.cors(r.limited("/api/summary", readsPerMinute, r.handleSummary))))
	r.mux.HandleFunc("/api/stream", r.observed("/api/stream", r.cors(r.limited("/api/stream", streamsPerMinute, r.handleStream))))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.cfg.Gatherer, promhttp.HandlerOpts{}))
}

// handleRoot upgrades websocket handshakes on any unclaimed path, so collectors
// configured with a bare ws://host:port URL reach the relay.
func (r *Router) handleRoot(upgrade http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			upgrade(w, req)
			return
		}
		if req.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "perfwatch-relay",
			"routes":  []string{"POST /api/metrics", "GET /api/metrics", "GET /api/summary", "GET /api/stream", "GET /ws"},
		})
	}
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Metrics *metric.Batch `json:"metrics"`
	}
	err := json.NewDecoder(http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)).Decode(&body)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	case body.Metrics == nil:
		writeError(w, http.StatusBadRequest, "metrics is required")
		return
	}

	if _, err := r.relay.Ingest(req.Context(), *body.Metrics); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, relay.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metric.IngestResponse{OK: true})
}

// handleList returns the accumulator, newest limit events when ?limit is set.
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	events := r.relay.Snapshot()
	if n, err := strconv.Atoi(req.URL.Query().Get("limit")); err == nil && n > 0 && n < len(events) {
		events = events[len(events)-n:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": events, "count": len(events)})
}

func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report": aggregate.Build(r.relay.Snapshot(), r.cfg.Location),
		"relay":  r.relay.Stats(),
	})
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if err := r.relay.Subscribe(client); err != nil {
		r.logger.Warn("websocket subscribe failed", "error", err)
		client.Close()
		return
	}
	ctx := context.WithoutCancel(req.Context())
	go func() {
		defer r.relay.Unsubscribe(client)
		_ = client.ReadLoop(func(raw []byte) {
			r.relay.HandleMessage(ctx, client, raw)
		})
	}()
}

func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	client, err := ws.NewSSEClient(w, r.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := r.relay.Subscribe(client); err != nil {
		client.Close()
		return
	}
	defer r.relay.Unsubscribe(client)
	select {
	case <-req.Context().Done():
	case <-client.Done():
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats := r.relay.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": stats.Subscribers,
		"retained":    stats.Retained,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
