package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost            = "localhost"
	DefaultPort            = 8090
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBodySize     = 1024 * 1024 // 1MB
	DefaultRateLimitMax    = 600
	DefaultRateLimitWindow = time.Minute
	DefaultLockoutMax      = 0
	DefaultLockoutWindow   = 5 * time.Minute
	DefaultDeliveryLogSize = 500

	// Database defaults.
	DefaultDriver       = DriverSQLite
	DefaultDBPath       = "hookd.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 4
	DefaultMaxIdleConns = 4

	// Webhook defaults.
	DefaultReplayWindow    = 300 * time.Second
	DefaultSignatureHeader = "X-Signature"
	DefaultTimestampHeader = "X-Timestamp"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsPath    = "/metrics"
	DefaultReportSchedule = "@every 30s"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxBodySize:     DefaultMaxBodySize,
			RateLimit: RateLimitRule{
				Max:    DefaultRateLimitMax,
				Window: DefaultRateLimitWindow,
			},
			AuthLockout: RateLimitRule{
				Max:    DefaultLockoutMax,
				Window: DefaultLockoutWindow,
			},
			DeliveryLogSize: DefaultDeliveryLogSize,
		},
		Database: DatabaseConfig{
			Driver:       DefaultDriver,
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
			AutoMigrate:  true,
		},
		Webhooks: WebhooksConfig{
			ReplayWindow:    DefaultReplayWindow,
			Secrets:         make(map[string]string),
			SignatureHeader: DefaultSignatureHeader,
			TimestampHeader: DefaultTimestampHeader,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Path:           DefaultMetricsPath,
			ReportSchedule: DefaultReportSchedule,
		},
	}
}
