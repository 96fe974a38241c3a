// Package relay accepts metric batches from collectors and rebroadcasts them to
// every connected live subscriber.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utpal16raj09/PerformaMeter/internal/ws"
	"github.com/utpal16raj09/PerformaMeter/pkg/aggregate"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

const defaultHeartbeat = 25 * time.Second

// ErrClosed is returned by Ingest after the service stopped.
var ErrClosed = errors.New("relay closed")

// Options configures a Service.
type Options struct {
	// Retention caps the diagnostic accumulator.
	Retention         int
	HeartbeatInterval time.Duration
	Now               func() time.Time
	Registerer        prometheus.Registerer
}

// Stats describes relay activity.
type Stats struct {
	Subscribers int                       `json:"subscribers"`
	Retained    int                       `json:"retained"`
	Batches     int64                     `json:"batches"`
	Events      int64                     `json:"events"`
	Rolling     aggregate.RollingSnapshot `json:"rolling"`
}

// Service is the relay core shared by the HTTP and websocket surfaces.
type Service struct {
	log       *slog.Logger
	hub       *ws.Hub
	window    *metric.Window
	rolling   *aggregate.Rolling
	now       func() time.Time
	heartbeat time.Duration
	metrics   *serviceMetrics

	// mu orders ingestion so broadcasts leave in Ingest call order and hello always
	// precedes the first broadcast a new subscriber sees.
	mu      sync.Mutex
	closed  bool
	batches int64
	events  int64
}

// NewService builds a relay service around hub.
func NewService(logger *slog.Logger, hub *ws.Hub, opts Options) *Service {
	if hub == nil {
		hub = ws.NewHub()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	return &Service{
		log:       logger.With("component", "relay"),
		hub:       hub,
		window:    metric.NewWindow(opts.Retention),
		rolling:   aggregate.NewRolling(),
		now:       opts.Now,
		heartbeat: opts.HeartbeatInterval,
		metrics:   newServiceMetrics(opts.Registerer),
	}
}

// Ingest records a batch and synchronously rebroadcasts it to every subscriber.
// It returns the number of subscribers that received the batch.
func (s *Service) Ingest(ctx context.Context, batch metric.Batch) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	events := batch.Clone()
	if events == nil {
		events = metric.Batch{}
	}
	now := s.now()
	for i := range events {
		events[i].Normalize(now)
	}
	frame, err := metric.NewBroadcast(metric.MessageMetrics, events)
	if err != nil {
		return 0, fmt.Errorf("encode broadcast: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.window.Append(events)
	s.rolling.Observe(events)
	s.batches++
	s.events += int64(len(events))
	delivered := s.hub.Broadcast(frame)

	s.metrics.observeIngest(len(events), delivered, s.hub.Count())
	s.log.Debug("batch ingested", "events", len(events), "subscribers", delivered)
	return delivered, nil
}

// Subscribe greets sub with hello and registers it for broadcasts.
func (s *Service) Subscribe(sub ws.Subscriber) error {
	hello, err := metric.NewBroadcast(metric.MessageHello, "connected")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := sub.Send(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	s.hub.Register(sub)
	s.metrics.subscribers.Set(float64(s.hub.Count()))
	s.log.Info("subscriber connected", "subscribers", s.hub.Count())
	return nil
}

// Unsubscribe removes and closes sub.
func (s *Service) Unsubscribe(sub ws.Subscriber) {
	s.hub.Unregister(sub)
	sub.Close()
	s.metrics.subscribers.Set(float64(s.hub.Count()))
	s.log.Info("subscriber disconnected", "subscribers", s.hub.Count())
}

// HandleMessage processes one frame received from a websocket peer. Collectors
// send metrics_batch, hello and pong; anything unparseable is dropped. Batches are
// ingested through POST /api/metrics only, so a live metrics_batch is logged and
// not ingested: collectors with both channels configured would otherwise be
// counted twice.
func (s *Service) HandleMessage(ctx context.Context, sub ws.Subscriber, raw []byte) {
	if ctx.Err() != nil {
		return
	}
	env, err := metric.ParseEnvelope(raw)
	if err != nil {
		s.log.Debug("live frame dropped", "error", err)
		return
	}
	switch env.Name() {
	case metric.MessageMetricsBatch:
		events, err := metric.DecodeEvents(env.Body())
		if err != nil {
			s.log.Warn("live batch dropped", "error", err)
			return
		}
		s.log.Debug("live batch received", "events", len(events))
	case metric.MessageHello:
		var hello metric.Hello
		_ = json.Unmarshal(env.Body(), &hello)
		s.log.Info("collector hello", "session_id", hello.SessionID)
	case metric.MessagePing:
		pong, err := metric.NewBroadcast(metric.MessagePong, metric.Pong{TS: s.now().UnixMilli()})
		if err == nil && sub != nil {
			_ = sub.Send(pong)
		}
	case metric.MessagePong:
	default:
		s.log.Debug("unknown live message", "name", env.Name())
	}
}

// Snapshot returns the accumulator contents, oldest first.
func (s *Service) Snapshot() []metric.Event {
	return s.window.Snapshot()
}

// Stats reports relay counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	batches, events := s.batches, s.events
	s.mu.Unlock()
	return Stats{
		Subscribers: s.hub.Count(),
		Retained:    s.window.Len(),
		Batches:     batches,
		Events:      events,
		Rolling:     s.rolling.Snapshot(),
	}
}

// Run pings subscribers every heartbeat interval until ctx is cancelled, then
// closes every subscriber.
func (s *Service) Run(ctx context.Context) error {
	ping, err := metric.NewBroadcast(metric.MessagePing, nil)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.hub.CloseAll()
			s.metrics.subscribers.Set(0)
			return nil
		case <-ticker.C:
			s.hub.Heartbeat(ping)
			s.metrics.subscribers.Set(float64(s.hub.Count()))
		}
	}
}
