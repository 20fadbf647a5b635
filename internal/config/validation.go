package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors. A non-empty
// collection is fatal at startup; the service never runs with a
// partially valid configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateCache()...)
	errors = append(errors, c.validateRateLimit()...)
	errors = append(errors, c.validateQuery()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "host is required",
		})
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "user is required",
		})
	}

	switch c.Database.TLS {
	case "", "disable", "preferred", "required":
	default:
		errors = append(errors, ValidationError{
			Field:   "database.tls",
			Message: "tls must be one of: disable, preferred, required",
		})
	}

	if c.Database.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "database.max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if c.Database.ConnectRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.connect_retries",
			Message: "connect_retries must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateCache() ValidationErrors {
	var errors ValidationErrors

	if c.Cache.MaxEntries <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.max_entries",
			Message: "max_entries must be positive",
		})
	}

	if c.Cache.DefaultTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.default_ttl",
			Message: "default_ttl must be positive",
		})
	}

	if c.Cache.SchemaTTL < c.Cache.DefaultTTL {
		errors = append(errors, ValidationError{
			Field:   "cache.schema_ttl",
			Message: "schema_ttl must not be shorter than default_ttl",
		})
	}

	if c.Cache.SweepInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.sweep_interval",
			Message: "sweep_interval must be positive",
		})
	}

	return errors
}

func (c *Config) validateRateLimit() ValidationErrors {
	var errors ValidationErrors

	if c.RateLimit.RequestsPerMinute <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rate_limit.requests_per_minute",
			Message: "requests_per_minute must be positive",
		})
	}

	if c.RateLimit.Adaptive {
		if c.RateLimit.FailureThreshold <= 0 {
			errors = append(errors, ValidationError{
				Field:   "rate_limit.failure_threshold",
				Message: "failure_threshold must be positive when adaptive mode is enabled",
			})
		}
		if c.RateLimit.MinRatio <= 0 || c.RateLimit.MinRatio > 1 {
			errors = append(errors, ValidationError{
				Field:   "rate_limit.min_ratio",
				Message: "min_ratio must be in (0, 1]",
			})
		}
	}

	return errors
}

func (c *Config) validateQuery() ValidationErrors {
	var errors ValidationErrors

	if c.Query.MaxRows <= 0 {
		errors = append(errors, ValidationError{
			Field:   "query.max_rows",
			Message: "max_rows must be positive",
		})
	}

	if c.Query.DefaultTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "query.default_timeout",
			Message: "default_timeout must be positive",
		})
	}

	if c.Query.MaxTimeout < c.Query.DefaultTimeout {
		errors = append(errors, ValidationError{
			Field:   "query.max_timeout",
			Message: "max_timeout must not be shorter than default_timeout",
		})
	}

	return errors
}

func (c *Config) validateServer() ValidationErrors {
	var errors ValidationErrors

	if c.Server.HTTPAddr == "" && c.Server.TCPAddr == "" {
		errors = append(errors, ValidationError{
			Field:   "server",
			Message: "at least one of http_addr or tcp_addr must be set",
		})
	}

	if c.Server.ReadTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "server.read_timeout",
			Message: "read_timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be one of: debug, info, warn, error",
		})
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be json or text",
		})
	}

	return errors
}
