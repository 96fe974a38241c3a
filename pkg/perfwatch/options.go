package perfwatch

import (
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// Collector defaults.
const (
	DefaultBatchSize         = 50
	DefaultFlushInterval     = 5 * time.Second
	DefaultReconnectInterval = 2 * time.Second
	DefaultStorageKey        = "perfwatch_metrics"

	minFlushInterval = time.Second
)

// Options configures a Collector. Zero values take the defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	// Endpoint receives batches over HTTP. Empty disables HTTP delivery.
	Endpoint string
	// LiveURL is the websocket URL of the relay. Empty disables the live link.
	LiveURL           string
	Disabled          bool
	MaxLocalStorage   int
	ReconnectInterval time.Duration
	StorageKey        string
	UserAgent         string
	URL               string
	// OnDelivery observes every delivery outcome. It runs on a background goroutine.
	OnDelivery func(DeliveryResult)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.MaxLocalStorage <= 0 {
		o.MaxLocalStorage = metric.DefaultWindowSize
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	if o.UserAgent == "" {
		o.UserAgent = "perfwatch-go"
	}
	return o
}

// Validate checks option values after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	return validation.ValidateStruct(&o,
		validation.Field(&o.BatchSize, validation.Min(1)),
		validation.Field(&o.MaxLocalStorage, validation.Min(1)),
		validation.Field(&o.Endpoint, is.RequestURL),
		validation.Field(&o.LiveURL, is.RequestURL),
		validation.Field(&o.StorageKey, validation.Required, validation.Length(1, 256)),
	)
}

// flushEvery is the auto-flush period.
func (o Options) flushEvery() time.Duration {
	if o.FlushInterval < minFlushInterval {
		return minFlushInterval
	}
	return o.FlushInterval
}

// Option customises collector dependencies.
type Option func(*Collector)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithPlatform replaces the host capabilities.
func WithPlatform(p Platform) Option {
	return func(c *Collector) {
		if p != nil {
			c.platform = p
		}
	}
}

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(c *Collector) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithDialer replaces the live link dialer.
func WithDialer(d Dialer) Option {
	return func(c *Collector) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithTransport replaces HTTP delivery.
func WithTransport(t Transport) Option {
	return func(c *Collector) {
		if t != nil {
			c.transport = t
			c.customTransport = true
		}
	}
}

// WithHTTPClient sets the client used by the default HTTP transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Collector) {
		c.httpClient = client
	}
}
