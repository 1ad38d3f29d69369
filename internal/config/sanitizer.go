package config

import (
	"encoding/json"
	"net/url"
)

// ConfigSanitizer sanitizes sensitive configuration data
type ConfigSanitizer interface {
	// Sanitize removes or redacts sensitive fields
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer
type DefaultConfigSanitizer struct {
	redactionValue string // Value to use for redacted fields
}

// NewDefaultConfigSanitizer creates a new DefaultConfigSanitizer
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{
		redactionValue: "***REDACTED***",
	}
}

// NewConfigSanitizer creates a ConfigSanitizer with custom redaction value
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{
		redactionValue: redactionValue,
	}
}

// Sanitize returns a copy of cfg with the database password and URL
// userinfo, Redis password, hash salt and JWT secret redacted. No
// caller in this module invokes it; the cmd binaries do not log the
// loaded Config.
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	sanitized.Database.Password = s.redactionValue
	sanitized.Database.URL = s.sanitizeURL(sanitized.Database.URL)

	sanitized.Redis.Password = s.redactionValue

	sanitized.Crypto.HashSalt = s.redactionValue

	sanitized.JWT.Secret = s.redactionValue

	return sanitized
}

// deepCopy creates a deep copy of Config using JSON serialization
func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}

	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		return cfg
	}

	return &configCopy
}

// sanitizeURL redacts userinfo (user:pass@) from a connection URL while
// keeping the host/path visible for diagnostics.
func (s *DefaultConfigSanitizer) sanitizeURL(raw string) string {
	if raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	u.User = url.UserPassword(u.User.Username(), s.redactionValue)
	return u.String()
}
