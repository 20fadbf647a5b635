// Package config provides configuration structures and loading for SchemaSentry.
package config

import "time"

// Config represents the complete service configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Query     QueryConfig     `yaml:"query" mapstructure:"query"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// DatabaseConfig represents the analytical MySQL database connection.
type DatabaseConfig struct {
	Host               string        `yaml:"host" mapstructure:"host"`
	Port               int           `yaml:"port" mapstructure:"port"`
	User               string        `yaml:"user" mapstructure:"user"`
	Password           string        `yaml:"password" mapstructure:"password"`
	Database           string        `yaml:"database" mapstructure:"database"`
	TLS                string        `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int           `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
	ConnectRetries     int           `yaml:"connect_retries" mapstructure:"connect_retries"`
	ConnectBackoff     time.Duration `yaml:"connect_backoff" mapstructure:"connect_backoff"`
}

// CacheConfig represents the in-memory metadata/result cache settings.
// TTLs differ by operation class: table schemas change rarely and keep
// the longest TTL, database/table listings sit in between, query
// results are the most volatile.
type CacheConfig struct {
	MaxEntries    int           `yaml:"max_entries" mapstructure:"max_entries"`
	DefaultTTL    time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	SchemaTTL     time.Duration `yaml:"schema_ttl" mapstructure:"schema_ttl"`
	ListTTL       time.Duration `yaml:"list_ttl" mapstructure:"list_ttl"`
	ResultTTL     time.Duration `yaml:"result_ttl" mapstructure:"result_ttl"`
	CoalesceTTL   time.Duration `yaml:"coalesce_ttl" mapstructure:"coalesce_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// RateLimitConfig represents per-client request rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Adaptive          bool `yaml:"adaptive" mapstructure:"adaptive"`
	// FailureThreshold is the number of consecutive failures after
	// which the effective ceiling for a client starts shrinking.
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	// MinRatio is the adaptive floor as a fraction of the configured
	// ceiling (0.1 = never below 10% of requests_per_minute).
	MinRatio      float64       `yaml:"min_ratio" mapstructure:"min_ratio"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	IdleTTL       time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
}

// QueryConfig represents query execution limits.
type QueryConfig struct {
	MaxRows        int           `yaml:"max_rows" mapstructure:"max_rows"`
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout" mapstructure:"max_timeout"`
	// FallbackOnError makes schema operations return an explicit
	// "unavailable" marker instead of an error when the database is
	// unreachable.
	FallbackOnError bool `yaml:"fallback_on_error" mapstructure:"fallback_on_error"`
}

// ServerConfig represents the two transport listeners.
type ServerConfig struct {
	HTTPAddr          string        `yaml:"http_addr" mapstructure:"http_addr"`
	TCPAddr           string        `yaml:"tcp_addr" mapstructure:"tcp_addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:               3306,
			TLS:                "preferred",
			MaxConnections:     10,
			MaxIdleConnections: 5,
			ConnectRetries:     3,
			ConnectBackoff:     time.Second,
		},
		Cache: CacheConfig{
			MaxEntries:    10000,
			DefaultTTL:    5 * time.Minute,
			SchemaTTL:     30 * time.Minute,
			ListTTL:       10 * time.Minute,
			ResultTTL:     time.Minute,
			CoalesceTTL:   5 * time.Second,
			SweepInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Adaptive:          true,
			FailureThreshold:  5,
			Cooldown:          30 * time.Second,
			MinRatio:          0.1,
			SweepInterval:     5 * time.Minute,
			IdleTTL:           10 * time.Minute,
		},
		Query: QueryConfig{
			MaxRows:        1000,
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     5 * time.Minute,
		},
		Server: ServerConfig{
			HTTPAddr:          ":8080",
			TCPAddr:           ":9090",
			HeartbeatInterval: 30 * time.Second,
			ReadTimeout:       2 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// TTLFor returns the cache TTL for a named cache operation class.
// Unknown operations fall back to the default TTL.
func (c *CacheConfig) TTLFor(operation string) time.Duration {
	switch operation {
	case "schema", "column":
		return c.SchemaTTL
	case "databases", "tables":
		return c.ListTTL
	case "query":
		return c.ResultTTL
	default:
		return c.DefaultTTL
	}
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-empty values are applied.
func (c *Config) ApplyOverrides(logLevel, logFormat string) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
}
