// Package config loads and validates message-broker configuration from a
// YAML file and/or environment variables using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for every process in the broker
// (gateway, worker, registry, brokerctl). Each binary only reads the
// sections it needs.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	TLS       TLSConfig       `mapstructure:"tls"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	App       AppConfig       `mapstructure:"app"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings shared by gateway/registry.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig configures the relational store (C2/C3). Driver selects
// between "postgres" (primary) and "sqlite" (lite/test profile).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite backend.
func (d DatabaseConfig) IsSQLite() bool {
	return strings.EqualFold(d.Driver, "sqlite")
}

// RedisConfig configures the connection used by the Durable Work Queue (C4).
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// QueueConfig names the queue key and blocking-pop timeout (§4.4/§6).
type QueueConfig struct {
	KeyName     string        `mapstructure:"key_name"`
	BlockingPop time.Duration `mapstructure:"blocking_pop_timeout"`
}

// CryptoConfig points at the key material and salt for C1.
type CryptoConfig struct {
	KeyDir         string `mapstructure:"key_dir"`
	CurrentVersion int    `mapstructure:"current_version"`
	HashSalt       string `mapstructure:"hash_salt"`
}

// TLSConfig configures mutual TLS termination for the ingress gateway and
// the internal confirmation API (§4.5, §6).
type TLSConfig struct {
	CACertPath     string `mapstructure:"ca_cert_path"`
	ServerCertPath string `mapstructure:"server_cert_path"`
	ServerKeyPath  string `mapstructure:"server_key_path"`
	CRLPath        string `mapstructure:"crl_path"`
	// RequireClientCert disables the bypass below when true (always true
	// in production; only false in local/dev config files).
	RequireClientCert bool `mapstructure:"require_client_cert"`
	// DevHeaderBypass trusts X-Client-ID instead of a peer certificate.
	// Off by default; §9 requires this to be configuration-guarded and
	// audited whenever used.
	DevHeaderBypass bool `mapstructure:"dev_header_bypass"`
}

// JWTConfig configures operator bearer tokens (§4.7).
type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// WorkerConfig configures the Delivery Worker Pool (C6, §6).
type WorkerConfig struct {
	WorkerID           string        `mapstructure:"worker_id"`
	Concurrency        int           `mapstructure:"concurrency"`
	RetryBaseInterval  time.Duration `mapstructure:"retry_base_interval"`
	RetryMaxInterval   time.Duration `mapstructure:"retry_max_interval"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BlockingPopTimeout time.Duration `mapstructure:"blocking_pop_timeout"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
}

// RegistryConfig is how the gateway and worker reach the Confirmation API (C7).
type RegistryConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	TLSVerify      bool          `mapstructure:"tls_verify"`
}

// RateLimitConfig configures the gateway's per-client sliding window (§4.5).
type RateLimitConfig struct {
	WindowSeconds     int `mapstructure:"window_seconds"`
	RequestsPerWindow int `mapstructure:"requests_per_window"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Directory  string `mapstructure:"directory"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig carries service identity metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig configures the Prometheus exposition endpoint (§6).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from an optional YAML file overlaid with
// environment variables (env takes precedence, dots replaced by
// underscores, e.g. SERVER_PORT, DATABASE_URL, WORKER_CONCURRENCY).
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only (no config file), used by tests and container entrypoints.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("server.port", 8443)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "message_broker")
	viper.SetDefault("database.username", "broker")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.sqlite_path", "/data/message-broker.db")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.min_connections", 2)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("queue.key_name", "message_broker:delivery_queue")
	viper.SetDefault("queue.blocking_pop_timeout", "5s")

	viper.SetDefault("crypto.key_dir", "/etc/message-broker/keys")
	viper.SetDefault("crypto.current_version", 1)
	viper.SetDefault("crypto.hash_salt", "")

	viper.SetDefault("tls.ca_cert_path", "/etc/message-broker/tls/ca.pem")
	viper.SetDefault("tls.server_cert_path", "/etc/message-broker/tls/server.pem")
	viper.SetDefault("tls.server_key_path", "/etc/message-broker/tls/server-key.pem")
	viper.SetDefault("tls.crl_path", "/etc/message-broker/tls/crl.pem")
	viper.SetDefault("tls.require_client_cert", true)
	viper.SetDefault("tls.dev_header_bypass", false)

	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.access_token_ttl", "24h")
	viper.SetDefault("jwt.refresh_token_ttl", "720h")

	viper.SetDefault("worker.worker_id", "")
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.retry_base_interval", "30s")
	viper.SetDefault("worker.retry_max_interval", "30s")
	viper.SetDefault("worker.max_attempts", 10000)
	viper.SetDefault("worker.blocking_pop_timeout", "5s")
	viper.SetDefault("worker.shutdown_grace", "30s")

	viper.SetDefault("registry.url", "https://localhost:8444")
	viper.SetDefault("registry.request_timeout", "30s")
	viper.SetDefault("registry.connect_timeout", "5s")
	viper.SetDefault("registry.tls_verify", true)

	viper.SetDefault("rate_limit.window_seconds", 60)
	viper.SetDefault("rate_limit.requests_per_window", 100)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.directory", "/var/log/message-broker")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("app.name", "message-broker")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}

// Validate checks cross-field invariants that viper's tag-based
// unmarshaling cannot express.
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite', got %q", c.Database.Driver)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds and requests_per_window must be positive")
	}
	if !c.TLS.RequireClientCert && !c.TLS.DevHeaderBypass {
		// Neither mTLS nor the dev bypass is enabled: nothing could ever
		// authenticate a client. This is almost certainly misconfiguration.
		return fmt.Errorf("tls.require_client_cert is false but tls.dev_header_bypass is also false; no authentication path is configured")
	}
	return nil
}
