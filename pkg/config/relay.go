package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// RelayConfig holds runtime configuration for the relay service.
type RelayConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	LogFormat          string
	Retention          int
	HeartbeatInterval  time.Duration
	MaxBodyBytes       int64
	IngestRateLimit    int
	WSRateLimit        int
	AllowedOrigin      string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ShutdownTimeout    time.Duration
}

// LoadRelayConfig constructs a RelayConfig from environment variables.
func LoadRelayConfig() RelayConfig {
	return RelayConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("RELAY_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", LogLevelInfo),
		LogFormat:          GetString("LOG_FORMAT", LogFormatJSON),
		Retention:          GetInt("RELAY_RETENTION", 1000),
		HeartbeatInterval:  time.Duration(GetInt("RELAY_HEARTBEAT_SECONDS", 25)) * time.Second,
		MaxBodyBytes:       int64(GetInt("RELAY_MAX_BODY_BYTES", 4<<20)),
		IngestRateLimit:    GetInt("RELAY_INGEST_RATE_LIMIT", 600),
		WSRateLimit:        GetInt("RELAY_WS_RATE_LIMIT", 0),
		AllowedOrigin:      GetString("RELAY_ALLOWED_ORIGIN", "*"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ShutdownTimeout:    time.Duration(GetInt("RELAY_SHUTDOWN_SECONDS", 10)) * time.Second,
	}
}

// Validate checks the relay configuration.
func (c RelayConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Environment, validation.Required),
		validation.Field(&c.Addr, validation.Required, validation.By(validateHostPort)),
		validation.Field(&c.LogLevel, validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
		validation.Field(&c.Retention, validation.Required, validation.Min(1)),
		validation.Field(&c.HeartbeatInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxBodyBytes, validation.Required, validation.Min(int64(1024))),
		validation.Field(&c.IngestRateLimit, validation.Min(0)),
		validation.Field(&c.WSRateLimit, validation.Min(0)),
		validation.Field(&c.RateLimitRedisDB, validation.Min(0)),
		validation.Field(&c.ShutdownTimeout, validation.Required),
	)
}
