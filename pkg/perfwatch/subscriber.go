package perfwatch

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utpal16raj09/PerformaMeter/pkg/aggregate"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// SubscriberOptions configures a relay Subscriber.
type SubscriberOptions struct {
	URL               string
	Window            int
	ReconnectInterval time.Duration
	// OnBatch runs on the read goroutine for every batch received.
	OnBatch func(metric.Batch)

	Logger    *slog.Logger
	Dialer    Dialer
	Scheduler Scheduler
	Now       func() time.Time
}

// Subscriber consumes the relay's live broadcast. It keeps the most recent events
// in a bounded window and running totals over everything received.
type Subscriber struct {
	id      string
	log     *slog.Logger
	link    *liveLink
	window  *metric.Window
	rolling *aggregate.Rolling
	onBatch func(metric.Batch)
	now     func() time.Time
}

// NewSubscriber builds a subscriber. Call Start to connect.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.URL == "" {
		return nil, errors.New("subscriber url required")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Subscriber{
		id:      uuid.NewString(),
		log:     opts.Logger.With("component", "subscriber"),
		window:  metric.NewWindow(opts.Window),
		rolling: aggregate.NewRolling(),
		onBatch: opts.OnBatch,
		now:     opts.Now,
	}
	s.link = newLiveLink(opts.Dialer, opts.Scheduler, s.log, opts.Now)
	s.link.onMessage = s.handle
	s.link.Configure(opts.URL, opts.ReconnectInterval)
	return s, nil
}

// Start connects to the relay. Reconnects happen automatically until Close.
func (s *Subscriber) Start() {
	s.link.Connect()
}

// Close disconnects and stops reconnecting.
func (s *Subscriber) Close() {
	s.link.Close()
}

// State reports the live link state.
func (s *Subscriber) State() LiveState {
	return s.link.State()
}

// Snapshot returns a copy of the retained events, oldest first.
func (s *Subscriber) Snapshot() []metric.Event {
	return s.window.Snapshot()
}

// Rolling returns running totals over every batch received.
func (s *Subscriber) Rolling() aggregate.RollingSnapshot {
	return s.rolling.Snapshot()
}

func (s *Subscriber) handle(env metric.Envelope) {
	switch env.Name() {
	case metric.MessageMetrics, metric.MessageMetricsBatch:
		events, err := metric.DecodeEvents(env.Body())
		if err != nil {
			s.log.Debug("broadcast dropped", "error", err)
			return
		}
		for i := range events {
			events[i].Normalize(s.now())
		}
		s.window.Append(events)
		s.rolling.Observe(events)
		if s.onBatch != nil {
			s.onBatch(events)
		}
	case metric.MessageHello:
		s.log.Debug("relay hello", "subscriber_id", s.id)
	case metric.MessagePong:
	default:
		s.log.Debug("unknown broadcast ignored", "name", env.Name())
	}
}
