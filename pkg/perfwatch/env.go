package perfwatch

import (
	"fmt"

	"github.com/utpal16raj09/PerformaMeter/pkg/config"
)

// OptionsFromConfig maps environment configuration onto collector options.
func OptionsFromConfig(cfg config.CollectorConfig) Options {
	return Options{
		BatchSize:         cfg.BatchSize,
		FlushInterval:     cfg.FlushInterval,
		Endpoint:          cfg.Endpoint,
		LiveURL:           cfg.LiveURL,
		Disabled:          !cfg.Enabled,
		MaxLocalStorage:   cfg.MaxLocalStorage,
		ReconnectInterval: cfg.ReconnectInterval,
		StorageKey:        cfg.StorageKey,
	}
}

// StoreFromConfig opens the retention store selected by cfg.Store.
func StoreFromConfig(cfg config.CollectorConfig) (Store, error) {
	switch cfg.Store {
	case "", config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFile:
		return NewFileStore(cfg.StoreDir)
	case config.StoreRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
