package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`

	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gte=0"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
	HistoryLimit       int   `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=1,lte=1000"`

	StorageDriver string `mapstructure:"storage_driver" yaml:"storage_driver" validate:"oneof=sqlite badger"`
	DatabasePath  string `mapstructure:"database_path" yaml:"database_path" validate:"required"`
	BadgerPath    string `mapstructure:"badger_path" yaml:"badger_path" validate:"required_if=StorageDriver badger"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=8"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl" validate:"gt=0"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`

	UploadDir      string `mapstructure:"upload_dir" yaml:"upload_dir" validate:"required"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		MaxMessageBytes:    1 << 20,
		RateLimitPerMinute: 0,
		HistoryLimit:       50,
		StorageDriver:      "sqlite",
		DatabasePath:       "instalite.db",
		BadgerPath:         "data/messages",
		JWTSecret:          "change-me-in-production",
		JWTIssuer:          "instalite",
		JWTAudience:        "",
		JWTTTL:             24 * time.Hour,
		JWTRequired:        false,
		UploadDir:          "uploads",
		MaxUploadBytes:     10 << 20,
	}
}

// Validate reports the first set of invalid fields.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StorageDriver != "" {
		c.StorageDriver = other.StorageDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.BadgerPath != "" {
		c.BadgerPath = other.BadgerPath
	}
	if other.UploadDir != "" {
		c.UploadDir = other.UploadDir
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
}
