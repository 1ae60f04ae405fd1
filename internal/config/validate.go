package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/watzon/hookd/internal/source"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateWebhooks(&cfg.Webhooks)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.shutdown_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be non-negative",
		})
	}

	if cfg.AdminToken != "" && len(cfg.AdminToken) < 16 {
		errs = append(errs, ValidationError{
			Field:   "server.admin_token",
			Message: "must be at least 16 characters",
		})
	}

	if cfg.RateLimit.Max < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit.max",
			Message: "must be non-negative",
		})
	}

	if cfg.RateLimit.Max > 0 && cfg.RateLimit.Window < time.Second {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit.window",
			Message: "must be at least 1s when rate limiting is enabled",
		})
	}

	if cfg.AuthLockout.Max < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.auth_lockout.max",
			Message: "must be non-negative",
		})
	}

	if cfg.AuthLockout.Max > 0 && cfg.AuthLockout.Window < time.Second {
		errs = append(errs, ValidationError{
			Field:   "server.auth_lockout.window",
			Message: "must be at least 1s when lockout is enabled",
		})
	}

	for i, entry := range cfg.TrustedProxies {
		if !validProxyEntry(entry) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("server.trusted_proxies[%d]", i),
				Message: fmt.Sprintf("%q is not an IP address or CIDR", entry),
			})
		}
	}

	if cfg.DeliveryLogSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.delivery_log_size",
			Message: "must be non-negative",
		})
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.cert_file",
				Message: "required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.key_file",
				Message: "required when TLS is enabled",
			})
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "database.path",
				Message: "required for the sqlite driver",
			})
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "database.dsn",
				Message: "required for the postgres driver",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "database.driver",
			Message: "must be 'sqlite' or 'postgres'",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxIdleConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_idle_conns",
			Message: "must be non-negative",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateWebhooks(cfg *WebhooksConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.ReplayWindow < 0 {
		errs = append(errs, ValidationError{
			Field:   "webhooks.replay_window",
			Message: "must be non-negative",
		})
	}

	if cfg.ReplayWindow%time.Second != 0 {
		errs = append(errs, ValidationError{
			Field:   "webhooks.replay_window",
			Message: "must be a whole number of seconds",
		})
	}

	for name := range cfg.Secrets {
		if !source.Valid(source.Normalize(name)) {
			errs = append(errs, ValidationError{
				Field:   "webhooks.secrets." + name,
				Message: fmt.Sprintf("invalid source identifier (lowercase letters, digits, '_', '-', '.', max %d chars)", source.MaxLength),
			})
		}
	}

	if cfg.WatchSecretsFile && cfg.SecretsFile == "" {
		errs = append(errs, ValidationError{
			Field:   "webhooks.watch_secrets_file",
			Message: "requires webhooks.secrets_file",
		})
	}

	if strings.TrimSpace(cfg.SignatureHeader) == "" {
		errs = append(errs, ValidationError{
			Field:   "webhooks.signature_header",
			Message: "required",
		})
	}

	if strings.TrimSpace(cfg.TimestampHeader) == "" {
		errs = append(errs, ValidationError{
			Field:   "webhooks.timestamp_header",
			Message: "required",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "must start with '/'",
		})
	}

	if cfg.ReportSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ReportSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.report_schedule",
				Message: fmt.Sprintf("invalid cron spec: %v", err),
			})
		}
	}

	return errs
}

func validProxyEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if _, err := netip.ParsePrefix(entry); err == nil {
		return true
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
