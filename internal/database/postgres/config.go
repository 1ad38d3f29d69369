package postgres

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// PostgresConfig holds connection and pool tuning settings for PostgreSQL.
type PostgresConfig struct {
	// Connection parameters
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	Database string `yaml:"database" env:"DB_NAME"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`

	// SSL configuration
	SSLMode string `yaml:"ssl_mode" env:"DB_SSL_MODE"`

	// Pool configuration
	MaxConns int32 `yaml:"max_conns" env:"DB_MAX_CONNS"`
	MinConns int32 `yaml:"min_conns" env:"DB_MIN_CONNS"`

	// Timeout configuration
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" env:"DB_HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"DB_CONNECT_TIMEOUT"`

	// Retry tuning for PostgresPool.Query's RetryExecutor. Deliberately
	// short: this covers a dropped connection or a serialization
	// conflict clearing within milliseconds, not a stuck dependency.
	// The worker's own message-delivery backoff (config.WorkerConfig)
	// is a separate, much longer policy for a different failure mode.
	RetryMaxAttempts   int           `yaml:"retry_max_attempts" env:"DB_RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay  time.Duration `yaml:"retry_initial_delay" env:"DB_RETRY_INITIAL_DELAY"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay" env:"DB_RETRY_MAX_DELAY"`

	// Circuit breaker tuning for the pool's periodic health check.
	CircuitBreakerMaxFailures  int           `yaml:"circuit_breaker_max_failures" env:"DB_CIRCUIT_BREAKER_MAX_FAILURES"`
	CircuitBreakerResetTimeout time.Duration `yaml:"circuit_breaker_reset_timeout" env:"DB_CIRCUIT_BREAKER_RESET_TIMEOUT"`
}

// DefaultConfig returns a config with sensible defaults. MaxConns is
// sized for a single broker process; the gateway, worker, registry,
// and portal binaries each open their own pool under this default
// rather than sharing one, so deployments running several of them
// against one PostgreSQL instance should lower MaxConns per process.
func DefaultConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:                       "localhost",
		Port:                       5432,
		Database:                   "message_broker",
		User:                       "broker",
		Password:                   "",
		SSLMode:                    "disable",
		MaxConns:                   20,
		MinConns:                   2,
		MaxConnLifetime:            1 * time.Hour,
		MaxConnIdleTime:            5 * time.Minute,
		HealthCheckPeriod:          30 * time.Second,
		ConnectTimeout:             30 * time.Second,
		RetryMaxAttempts:           2,
		RetryInitialDelay:          50 * time.Millisecond,
		RetryMaxDelay:              500 * time.Millisecond,
		CircuitBreakerMaxFailures:  DefaultCircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout: DefaultCircuitBreakerResetTimeout,
	}
}

// LoadFromEnv loads configuration from environment variables, falling
// back to DefaultConfig for anything unset.
func LoadFromEnv() *PostgresConfig {
	config := DefaultConfig()

	if host := os.Getenv("DB_HOST"); host != "" {
		config.Host = host
	}
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			config.Port = port
		}
	}
	if database := os.Getenv("DB_NAME"); database != "" {
		config.Database = database
	}
	if user := os.Getenv("DB_USER"); user != "" {
		config.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		config.Password = password
	}
	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		config.SSLMode = sslMode
	}
	if maxConnsStr := os.Getenv("DB_MAX_CONNS"); maxConnsStr != "" {
		if maxConns, err := strconv.ParseInt(maxConnsStr, 10, 32); err == nil {
			config.MaxConns = int32(maxConns)
		}
	}
	if minConnsStr := os.Getenv("DB_MIN_CONNS"); minConnsStr != "" {
		if minConns, err := strconv.ParseInt(minConnsStr, 10, 32); err == nil {
			config.MinConns = int32(minConns)
		}
	}
	if retryStr := os.Getenv("DB_RETRY_MAX_ATTEMPTS"); retryStr != "" {
		if retries, err := strconv.Atoi(retryStr); err == nil {
			config.RetryMaxAttempts = retries
		}
	}
	if maxFailuresStr := os.Getenv("DB_CIRCUIT_BREAKER_MAX_FAILURES"); maxFailuresStr != "" {
		if maxFailures, err := strconv.Atoi(maxFailuresStr); err == nil {
			config.CircuitBreakerMaxFailures = maxFailures
		}
	}

	return config
}

// Validate checks that the configuration is internally consistent.
func (c *PostgresConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min connections cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections cannot be greater than max connections")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("max connection lifetime must be greater than 0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("max connection idle time must be greater than 0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("health check period must be greater than 0")
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s", c.SSLMode)
	}

	return nil
}

// ConnectionString returns a libpq-style connection string.
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DSN returns a pgx-style connection URL.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
