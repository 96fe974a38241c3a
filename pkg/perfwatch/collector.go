// Package perfwatch is the in-process collector. It buffers metric events, flushes
// them in batches to a relay over HTTP, mirrors each batch on a live websocket link
// and keeps a bounded window of recent events in local storage.
package perfwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

const deliveryTimeout = 10 * time.Second

// SessionSummary is a cheap snapshot of collector bookkeeping.
type SessionSummary struct {
	SessionID     string    `json:"sessionId"`
	StartedAt     time.Time `json:"startedAt"`
	TotalRequests int64     `json:"totalRequests"`
	TotalErrors   int64     `json:"totalErrors"`
	Queued        int       `json:"metricsCollected"`
	Retained      int       `json:"retained"`
}

// Uptime is the session age at now.
func (s SessionSummary) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// Collector gathers events for one session.
type Collector struct {
	log        *slog.Logger
	platform   Platform
	sched      Scheduler
	dialer     Dialer
	httpClient *http.Client

	transport       Transport
	customTransport bool

	sessionID string
	startedAt time.Time

	mu            sync.Mutex
	opts          Options
	queue         metric.Batch
	totalRequests int64
	totalErrors   int64
	timer         Timer
	timerSeq      uint64
	destroyed     bool
	stopErrors    func()

	flushMu  sync.Mutex
	retained *metric.Window

	link     *liveLink
	inflight sync.WaitGroup
}

// New builds a collector and, unless disabled, starts auto-flush, error capture and
// the live link.
func New(opts Options, options ...Option) (*Collector, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector options: %w", err)
	}

	c := &Collector{
		log:       slog.Default(),
		sched:     SystemScheduler{},
		dialer:    WebSocketDialer{},
		sessionID: uuid.NewString(),
		opts:      opts,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.platform == nil {
		c.platform = NewHostPlatform(nil)
	}
	c.log = c.log.With("session_id", c.sessionID)
	c.startedAt = c.platform.Now()
	if err := c.configureTransport(opts); err != nil {
		return nil, err
	}

	c.retained = metric.NewWindow(opts.MaxLocalStorage)
	c.restoreRetained(opts.StorageKey)

	c.link = newLiveLink(c.dialer, c.sched, c.log, c.platform.Now)
	c.link.hello = c.helloFrame

	c.mu.Lock()
	c.startLocked()
	c.mu.Unlock()
	return c, nil
}

// SessionID returns the identifier stamped on every event.
func (c *Collector) SessionID() string {
	return c.sessionID
}

// Enabled reports whether the collector records events.
func (c *Collector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.opts.Disabled && !c.destroyed
}

// Track enqueues evt and flushes when the queue reaches the batch size.
func (c *Collector) Track(evt metric.Event) {
	c.mu.Lock()
	if c.opts.Disabled || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.enrichLocked(&evt)
	c.queue = append(c.queue, evt)
	full := len(c.queue) >= c.opts.BatchSize
	c.mu.Unlock()

	if full {
		c.Flush()
	}
}

// TrackError records an error event and counts it.
func (c *Collector) TrackError(info ErrorInfo) {
	c.mu.Lock()
	if c.opts.Disabled || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.totalErrors++
	c.mu.Unlock()

	kind := info.Kind
	if kind == "" {
		kind = string(metric.TypeError)
	}
	attrs := map[string]any{"kind": kind}
	if info.Source != "" {
		attrs["filename"] = info.Source
	}
	if info.Line > 0 {
		attrs["lineno"] = info.Line
	}
	if info.Column > 0 {
		attrs["colno"] = info.Column
	}
	if info.Context != "" {
		attrs["context"] = info.Context
	}
	c.Track(metric.Event{
		Type:       metric.TypeError,
		Message:    info.Message,
		Stack:      info.Stack,
		Severity:   "error",
		Attributes: attrs,
	})
}

// Flush moves the queued events into a batch, retains and persists it, and hands it
// to the live link and the HTTP transport. Delivery outcomes are reported through
// the logger and Options.OnDelivery. An empty queue returns an empty batch and has
// no side effects.
func (c *Collector) Flush() metric.Batch {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.opts.Disabled || len(c.queue) == 0 {
		c.mu.Unlock()
		return metric.Batch{}
	}
	batch := c.queue
	c.queue = nil
	opts := c.opts
	transport := c.transport
	c.mu.Unlock()

	c.retain(opts.StorageKey, batch)
	c.sendLive(opts, batch)
	if transport != nil {
		c.deliver(opts, transport, batch.Clone())
	}
	return batch
}

// Summary returns the session bookkeeping without touching any queue contents.
func (c *Collector) Summary() SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionSummary{
		SessionID:     c.sessionID,
		StartedAt:     c.startedAt,
		TotalRequests: c.totalRequests,
		TotalErrors:   c.totalErrors,
		Queued:        len(c.queue),
		Retained:      c.retained.Len(),
	}
}

// Retained returns a copy of the local retention window, oldest first.
func (c *Collector) Retained() []metric.Event {
	return c.retained.Snapshot()
}

// LiveState reports the live link state.
func (c *Collector) LiveState() LiveState {
	return c.link.State()
}

// CloseLive closes the live link and suppresses reconnects until Reconfigure.
func (c *Collector) CloseLive() {
	c.link.Close()
}

// Reconfigure applies new options. It restarts auto-flush and the live link and
// clears a previous CloseLive.
func (c *Collector) Reconfigure(opts Options) error {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid collector options: %w", err)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.stopLocked()
	previous := c.opts
	c.opts = opts
	if err := c.configureTransport(opts); err != nil {
		c.opts = previous
		c.startLocked()
		c.mu.Unlock()
		return err
	}
	c.retained.Resize(opts.MaxLocalStorage)
	c.startLocked()
	c.mu.Unlock()
	return nil
}

// Destroy stops auto-flush, closes the live link, flushes what is queued and waits
// for in-flight HTTP deliveries. Later calls are no-ops.
func (c *Collector) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.destroyed = true
	c.mu.Unlock()

	c.link.Close()
	c.Flush()
	c.inflight.Wait()
}

// Wait blocks until every in-flight HTTP delivery has finished.
func (c *Collector) Wait() {
	c.inflight.Wait()
}

func (c *Collector) configureTransport(opts Options) error {
	if c.customTransport {
		return nil
	}
	if opts.Endpoint == "" {
		c.transport = nil
		return nil
	}
	transport, err := NewHTTPTransport(opts.Endpoint, c.httpClient)
	if err != nil {
		return err
	}
	transport.userAgent = opts.UserAgent
	c.transport = transport
	return nil
}

func (c *Collector) startLocked() {
	if c.opts.Disabled {
		c.link.Configure("", c.opts.ReconnectInterval)
		return
	}
	c.armFlushLocked()
	if c.stopErrors == nil {
		c.stopErrors = c.platform.ObserveUnhandledErrors(c.TrackError)
	}
	c.link.Configure(c.opts.LiveURL, c.opts.ReconnectInterval)
	c.link.Connect()
}

func (c *Collector) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	if c.stopErrors != nil {
		c.stopErrors()
		c.stopErrors = nil
	}
}

func (c *Collector) armFlushLocked() {
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.sched.AfterFunc(c.opts.flushEvery(), func() { c.autoFlush(seq) })
}

func (c *Collector) autoFlush(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.destroyed || c.opts.Disabled {
		c.mu.Unlock()
		return
	}
	pending := len(c.queue) > 0
	c.armFlushLocked()
	c.mu.Unlock()

	if pending {
		c.Flush()
	}
}

func (c *Collector) enrichLocked(evt *metric.Event) {
	evt.SessionID = c.sessionID
	if evt.UserAgent == "" {
		evt.UserAgent = c.opts.UserAgent
	}
	if evt.URL == "" {
		evt.URL = c.opts.URL
	}
	evt.Normalize(c.platform.Now())
}

func (c *Collector) restoreRetained(key string) {
	raw, err := c.platform.Retrieve(key)
	if err != nil {
		c.log.Warn("retention window not restored", "key", key, "error", err)
		return
	}
	events, err := metric.DecodeEvents(raw)
	if err != nil {
		c.log.Warn("retention window corrupt, starting empty", "key", key, "error", err)
	}
	c.retained.Reset(events)
}

func (c *Collector) retain(key string, batch metric.Batch) {
	if evicted := c.retained.Append(batch.Clone()); evicted > 0 {
		c.log.Debug("retention window evicted events", "count", evicted)
	}
	raw, err := json.Marshal(c.retained.Snapshot())
	if err != nil {
		c.log.Warn("retention window not encoded", "error", err)
		return
	}
	if err := c.platform.Persist(key, raw); err != nil {
		c.log.Warn("retention window not persisted", "key", key, "error", err)
	}
}

func (c *Collector) sendLive(opts Options, batch metric.Batch) {
	if opts.LiveURL == "" {
		return
	}
	frame, err := metric.NewMessage(metric.MessageMetricsBatch, batch)
	if err == nil {
		err = c.link.Send(frame)
	}
	if err != nil {
		c.log.Debug("live batch dropped", "count", len(batch), "error", err)
	}
	c.report(opts, DeliveryResult{Channel: ChannelLive, Count: len(batch), Err: err})
}

func (c *Collector) deliver(opts Options, transport Transport, batch metric.Batch) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		err := transport.Send(ctx, batch)
		if err != nil {
			c.log.Warn("batch delivery failed", "count", len(batch), "error", err)
		} else {
			c.log.Debug("batch delivered", "count", len(batch))
		}
		c.report(opts, DeliveryResult{Channel: ChannelHTTP, Count: len(batch), Err: err})
	}()
}

func (c *Collector) report(opts Options, result DeliveryResult) {
	if opts.OnDelivery != nil {
		opts.OnDelivery(result)
	}
}

func (c *Collector) helloFrame() ([]byte, error) {
	return metric.NewMessage(metric.MessageHello, metric.Hello{
		SessionID: c.sessionID,
		TS:        c.platform.Now().UnixMilli(),
	})
}
