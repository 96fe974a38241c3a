package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Retention store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// CollectorConfig mirrors the collector configuration surface for processes that
// configure the SDK from the environment.
type CollectorConfig struct {
	Enabled           bool
	BatchSize         int
	FlushInterval     time.Duration
	Endpoint          string
	LiveURL           string
	MaxLocalStorage   int
	ReconnectInterval time.Duration
	StorageKey        string
	Store             string
	StoreDir          string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LogLevel          string
	LogFormat         string
}

// LoadCollectorConfig constructs a CollectorConfig from PERFWATCH_* variables.
func LoadCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Enabled:           GetBool("PERFWATCH_ENABLED", true),
		BatchSize:         GetInt("PERFWATCH_BATCH_SIZE", 50),
		FlushInterval:     GetMillis("PERFWATCH_FLUSH_INTERVAL_MS", 5*time.Second),
		Endpoint:          GetString("PERFWATCH_ENDPOINT", "http://localhost:4000/api/metrics"),
		LiveURL:           GetString("PERFWATCH_LIVE_URL", ""),
		MaxLocalStorage:   GetInt("PERFWATCH_MAX_LOCAL_STORAGE", 1000),
		ReconnectInterval: GetMillis("PERFWATCH_RECONNECT_INTERVAL_MS", 2*time.Second),
		StorageKey:        GetString("PERFWATCH_STORAGE_KEY", "perfwatch_metrics"),
		Store:             GetString("PERFWATCH_STORE", StoreMemory),
		StoreDir:          GetString("PERFWATCH_STORE_DIR", ".perfwatch"),
		RedisAddr:         GetString("PERFWATCH_REDIS_ADDR", ""),
		RedisPassword:     GetString("PERFWATCH_REDIS_PASSWORD", ""),
		RedisDB:           GetInt("PERFWATCH_REDIS_DB", 0),
		LogLevel:          GetString("LOG_LEVEL", LogLevelInfo),
		LogFormat:         GetString("LOG_FORMAT", LogFormatText),
	}
}

// Validate checks the collector configuration.
func (c CollectorConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BatchSize, validation.Min(1)),
		validation.Field(&c.FlushInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Endpoint, validation.By(urlWithScheme("http", "https"))),
		validation.Field(&c.LiveURL, validation.By(urlWithScheme("ws", "wss"))),
		validation.Field(&c.MaxLocalStorage, validation.Min(1)),
		validation.Field(&c.ReconnectInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.StorageKey, validation.Required),
		validation.Field(&c.Store, validation.Required, validation.In(StoreMemory, StoreFile, StoreRedis)),
		validation.Field(&c.StoreDir, validation.When(c.Store == StoreFile, validation.Required)),
		validation.Field(&c.RedisAddr, validation.When(c.Store == StoreRedis, validation.Required)),
		validation.Field(&c.LogLevel, validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	)
}
