package config

import (
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Log settings shared by every binary.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatJSON = "json"
	LogFormatText = "text"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetMillis retrieves an environment variable holding milliseconds as a duration.
func GetMillis(key string, fallback time.Duration) time.Duration {
	return time.Duration(GetInt(key, int(fallback/time.Millisecond))) * time.Millisecond
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}
	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}
	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}
	return nil
}

func urlWithScheme(schemes ...string) validation.RuleFunc {
	return func(value interface{}) error {
		raw, ok := value.(string)
		if !ok {
			return validation.NewError("validation_invalid_type", "must be a string")
		}
		if raw == "" {
			return nil
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return validation.NewError("validation_invalid_url", "must be a valid URL")
		}
		for _, scheme := range schemes {
			if parsed.Scheme == scheme {
				if parsed.Host == "" {
					return validation.NewError("validation_missing_host", "URL must have a host")
				}
				return nil
			}
		}
		return validation.NewError("validation_invalid_scheme", "URL has an unsupported scheme")
	}
}
