package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/utpal16raj09/PerformaMeter/internal/relay"
	"github.com/utpal16raj09/PerformaMeter/internal/ws"
	"github.com/utpal16raj09/PerformaMeter/pkg/logger"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
	"github.com/utpal16raj09/PerformaMeter/pkg/perfwatch"
)

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if s.allowFn != nil {
		return s.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (s *rateLimiterStub) Close() {}

func setupRouter(t *testing.T, limiter RateLimiter, cfg Config) (*Router, *relay.Service) {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := relay.NewService(logger.Discard(), ws.NewHub(), relay.Options{Retention: 100, Registerer: reg})
	cfg.Registerer = reg
	cfg.Gatherer = reg
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	router := NewRouter(logger.Discard(), svc, limiter, cfg)
	t.Cleanup(router.Close)
	return router, svc
}

func postMetrics(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/metrics", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestPostMetricsAcknowledges(t *testing.T) {
	router, svc := setupRouter(t, &rateLimiterStub{}, Config{IngestRateLimit: 600})

	rr := postMetrics(t, router, `{"metrics":[{"type":"api_request","endpoint":"/a","status":200,"success":true,"duration":120,"timestamp":1000}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp metric.IngestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || !resp.OK {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header, got %q", got)
	}
	if len(svc.Snapshot()) != 1 {
		t.Fatal("expected batch accumulated")
	}
}

func TestPostMetricsRejectsBadBodies(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{}, Config{MaxBodyBytes: 64})

	oversized := `{"metrics":[` + strings.Repeat(`{"type":"custom"},`, 10) + `{}]}`
	cases := []struct {
		body string
		want int
	}{
		{`not json`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"metrics":null}`, http.StatusBadRequest},
		{oversized, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		if rr := postMetrics(t, router, tc.body); rr.Code != tc.want {
			t.Fatalf("body %.20q: expected %d, got %d", tc.body, tc.want, rr.Code)
		}
	}
	if rr := postMetrics(t, router, `{"metrics":[]}`); rr.Code != http.StatusOK {
		t.Fatalf("empty batch should be accepted, got %d", rr.Code)
	}
}

func TestPostMetricsRateLimited(t *testing.T) {
	limiter := &rateLimiterStub{}
	reset := time.Unix(1_950_000_000, 0)
	limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}
	router, svc := setupRouter(t, limiter, Config{IngestRateLimit: 5})

	rr := postMetrics(t, router, `{"metrics":[{"type":"custom"}]}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
	if len(svc.Snapshot()) != 0 {
		t.Fatal("rate limited batch must not be ingested")
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.calls) != 1 || !strings.HasPrefix(limiter.calls[0], "/api/metrics|ip:") {
		t.Fatalf("unexpected limiter keys %v", limiter.calls)
	}
}

func TestPreflightSkipsLimiter(t *testing.T) {
	limiter := &rateLimiterStub{}
	router, _ := setupRouter(t, limiter, Config{IngestRateLimit: 5, AllowedOrigin: "https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected origin header %q", got)
	}
	if len(limiter.calls) != 0 {
		t.Fatal("preflight must not consume rate limit")
	}
}

func TestGetMetricsAndSummary(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{}, Config{})
	postMetrics(t, router, `{"metrics":[
		{"type":"api_request","endpoint":"/a","status":200,"success":true,"duration":100,"timestamp":1000},
		{"type":"api_request","endpoint":"/b","status":500,"success":false,"duration":300,"timestamp":2000}
	]}`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics?limit=1", nil))
	var list struct {
		Metrics []metric.Event `json:"metrics"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Metrics[0].Endpoint != "/b" {
		t.Fatalf("unexpected list %#v", list)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var summary struct {
		Report struct {
			Summary struct {
				AvgLatency    int64   `json:"avgLatency"`
				FailureRate   float64 `json:"failureRate"`
				TotalRequests int     `json:"totalRequests"`
			} `json:"summary"`
		} `json:"report"`
		Relay relay.Stats `json:"relay"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v (%s)", err, rr.Body.String())
	}
	if summary.Report.Summary.AvgLatency != 200 || summary.Report.Summary.FailureRate != 50 || summary.Report.Summary.TotalRequests != 2 {
		t.Fatalf("unexpected summary %#v", summary.Report.Summary)
	}
	if summary.Relay.Batches != 1 {
		t.Fatalf("unexpected relay stats %#v", summary.Relay)
	}
}

func TestHealthzAndPrometheus(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{}, Config{})
	postMetrics(t, router, `{"metrics":[{"type":"custom"}]}`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected healthz %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, name := range []string{"perfwatch_relay_events_ingested_total 1", "perfwatch_relay_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{}, Config{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) metric.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := metric.ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse frame %s: %v", raw, err)
	}
	return env
}

func TestWebsocketSubscribersReceiveBroadcasts(t *testing.T) {
	router, svc := setupRouter(t, &rateLimiterStub{}, Config{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	viewer, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer viewer.Close()
	collector, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial root: %v", err)
	}
	defer collector.Close()

	for _, conn := range []*websocket.Conn{viewer, collector} {
		hello := readFrame(t, conn)
		if hello.Type != metric.MessageHello || string(hello.Data) != `"connected"` {
			t.Fatalf("unexpected hello %#v", hello)
		}
	}

	resp, err := http.Post(srv.URL+"/api/metrics", "application/json", bytes.NewBufferString(`{"metrics":[{"type":"custom","name":"http","timestamp":1}]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	frame := readFrame(t, viewer)
	if frame.Name() != metric.MessageMetrics {
		t.Fatalf("expected metrics frame, got %s", frame.Name())
	}

	live, _ := metric.NewMessage(metric.MessageMetricsBatch, metric.Batch{{Type: metric.TypeCustom, Name: "live", Timestamp: 2}})
	if err := collector.WriteMessage(websocket.TextMessage, live); err != nil {
		t.Fatalf("write live batch: %v", err)
	}
	ping, _ := metric.NewMessage(metric.MessagePing, nil)
	if err := collector.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	// Frames are handled in order, so the pong proves the live batch was processed.
	if frame := readFrame(t, collector); frame.Name() != metric.MessageMetrics {
		t.Fatalf("expected the posted batch first, got %s", frame.Name())
	}
	if frame := readFrame(t, collector); frame.Name() != metric.MessagePong {
		t.Fatalf("expected pong, got %s", frame.Name())
	}
	stats := svc.Stats()
	if stats.Events != 1 || len(svc.Snapshot()) != 1 {
		t.Fatalf("live batch must not be ingested, got %d events", stats.Events)
	}
	if stats.Subscribers != 2 {
		t.Fatalf("expected 2 subscribers, got %d", stats.Subscribers)
	}
}

func TestCollectorWithBothChannelsCountedOnce(t *testing.T) {
	router, svc := setupRouter(t, &rateLimiterStub{}, Config{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	c, err := perfwatch.New(perfwatch.Options{
		Endpoint:      srv.URL + "/api/metrics",
		LiveURL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, perfwatch.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	defer c.Destroy()

	waitFor(t, "live link open", func() bool { return c.LiveState() == perfwatch.StateOpen })
	for i := 0; i < 3; i++ {
		c.Track(metric.Event{Type: metric.TypeCustom, Name: "tick"})
	}
	if got := len(c.Flush()); got != 3 {
		t.Fatalf("expected 3 flushed events, got %d", got)
	}
	c.Wait()

	waitFor(t, "batch ingested", func() bool { return svc.Stats().Batches > 0 })
	// Give a duplicate live copy time to land before counting.
	time.Sleep(100 * time.Millisecond)
	stats := svc.Stats()
	if stats.Events != 3 || stats.Batches != 1 {
		t.Fatalf("expected 3 events in 1 batch, got %d events in %d batches", stats.Events, stats.Batches)
	}
	if got := len(svc.Snapshot()); got != 3 {
		t.Fatalf("expected 3 retained events, got %d", got)
	}
}

func TestWebsocketUpgradesUnlimitedByDefault(t *testing.T) {
	limiter := &rateLimiterStub{}
	router, _ := setupRouter(t, limiter, Config{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	for _, path := range []string{"/ws", "/"} {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+path, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", path, err)
		}
		conn.Close()
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.calls) != 0 {
		t.Fatalf("websocket upgrades must not consult the limiter, got %v", limiter.calls)
	}
}

func TestWebsocketUpgradesLimitedWhenConfigured(t *testing.T) {
	limiter := &rateLimiterStub{}
	limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit}
	}
	router, svc := setupRouter(t, limiter, Config{WSRateLimit: 2})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	for _, path := range []string{"/ws", "/"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+path, nil)
		if err == nil {
			t.Fatalf("dial %s: expected rejection", path)
		}
		if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("dial %s: expected 429, got %v", path, resp)
		}
		resp.Body.Close()
	}
	if n := svc.Stats().Subscribers; n != 0 {
		t.Fatalf("rejected upgrades must not subscribe, got %d", n)
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	for _, key := range limiter.calls {
		if !strings.HasPrefix(key, "/ws|ip:") {
			t.Fatalf("unexpected limiter key %q", key)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamDeliversServerSentEvents(t *testing.T) {
	router, svc := setupRouter(t, &rateLimiterStub{}, Config{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	nextData := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}
	if hello := nextData(); !strings.Contains(hello, `"hello"`) {
		t.Fatalf("expected hello, got %s", hello)
	}
	if _, err := svc.Ingest(context.Background(), metric.Batch{{Type: metric.TypeCustom}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if data := nextData(); !strings.Contains(data, `"metrics"`) {
		t.Fatalf("expected metrics frame, got %s", data)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Unix(1_000, 0)
	rl := newMemoryRateLimiter(func() time.Time { return now })
	defer rl.Close()

	for i := 0; i < 2; i++ {
		if !rl.Allow("k", 2, time.Minute).allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if rl.Allow("k", 2, time.Minute).allowed {
		t.Fatal("third call should be limited")
	}
	now = now.Add(2 * time.Minute)
	if !rl.Allow("k", 2, time.Minute).allowed {
		t.Fatal("new window should allow")
	}
	rl.sweep(now.Add(time.Hour))
	if len(rl.counters) != 0 {
		t.Fatal("expected expired entries swept")
	}
}

func TestRedisRateLimiter(t *testing.T) {
	srv := miniredis.RunT(t)
	rl := newRedisRateLimiter(redis.NewClient(&redis.Options{Addr: srv.Addr()}), logger.Discard())
	defer rl.Close()

	first := rl.Allow("ip:1.2.3.4", 1, time.Minute)
	second := rl.Allow("ip:1.2.3.4", 1, time.Minute)
	if !first.allowed || second.allowed || second.count != 2 {
		t.Fatalf("unexpected decisions %#v %#v", first, second)
	}
	if ttl := srv.TTL("perfwatch:ratelimit:ip:1.2.3.4"); ttl != time.Minute {
		t.Fatalf("expected window ttl, got %s", ttl)
	}

	srv.Close()
	if !rl.Allow("ip:1.2.3.4", 1, time.Minute).allowed {
		t.Fatal("limiter must fail open when redis is down")
	}
}
