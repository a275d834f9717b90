package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Relay server
	RelayHost        string        `env:"RELAY_HOST" default:"127.0.0.1"`
	RelayPort        int           `env:"RELAY_PORT" default:"9000"`
	ReadTimeout      time.Duration `env:"RELAY_READ_TIMEOUT" default:"2s"`
	BufferSize       int           `env:"RELAY_BUFFER_SIZE" default:"4096"`
	QueueSize        int           `env:"RELAY_QUEUE_SIZE" default:"1024"`
	AnnotationFormat string        `env:"RELAY_ANNOTATION" default:"from"`
	DecodePolicy     string        `env:"RELAY_DECODE_POLICY" default:"skip"`

	// Per-peer throttling, disabled when PeerRate is 0
	PeerRate  float64 `env:"RELAY_PEER_RATE" default:"0"`
	PeerBurst int     `env:"RELAY_PEER_BURST" default:"5"`

	// Admin HTTP surface, disabled when 0
	AdminHTTPPort int `env:"ADMIN_HTTP_PORT" default:"0"`

	// Chat client
	ClientHost         string        `env:"CLIENT_HOST" default:"127.0.0.1"`
	ClientPort         int           `env:"CLIENT_PORT" default:"0"`
	ClientServerAddr   string        `env:"CLIENT_SERVER_ADDR" default:"127.0.0.1:9000"`
	ClientPollInterval time.Duration `env:"CLIENT_POLL_INTERVAL" default:"100ms"`
	ClientHistoryLimit int           `env:"CLIENT_HISTORY_LIMIT" default:"0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// maxDatagramSize is the largest UDP payload over IPv4.
const maxDatagramSize = 65507

// LoadConfig loads configuration from environment variables, reading .env first when present
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		// A missing .env is fine, system env vars still apply
		fmt.Fprintf(os.Stderr, "Warning: .env file not loaded: %v\n", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Relay server
	if err := loadEnvString(&config.RelayHost, "RELAY_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RelayPort, "RELAY_PORT", 9000); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReadTimeout, "RELAY_READ_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BufferSize, "RELAY_BUFFER_SIZE", 4096); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.QueueSize, "RELAY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AnnotationFormat, "RELAY_ANNOTATION", "from"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DecodePolicy, "RELAY_DECODE_POLICY", "skip"); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.PeerRate, "RELAY_PEER_RATE", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.PeerBurst, "RELAY_PEER_BURST", 5); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AdminHTTPPort, "ADMIN_HTTP_PORT", 0); err != nil {
		return nil, err
	}

	// Chat client
	if err := loadEnvString(&config.ClientHost, "CLIENT_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ClientPort, "CLIENT_PORT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ClientServerAddr, "CLIENT_SERVER_ADDR", "127.0.0.1:9000"); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ClientPollInterval, "CLIENT_POLL_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ClientHistoryLimit, "CLIENT_HISTORY_LIMIT", 0); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = strings.TrimSpace(value)
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	// Validate ports are in valid range
	if c.RelayPort < 1 || c.RelayPort > 65535 {
		errors = append(errors, "RELAY_PORT must be between 1 and 65535")
	}
	if c.ClientPort < 0 || c.ClientPort > 65535 {
		errors = append(errors, "CLIENT_PORT must be between 0 and 65535")
	}
	if c.AdminHTTPPort < 0 || c.AdminHTTPPort > 65535 {
		errors = append(errors, "ADMIN_HTTP_PORT must be between 0 and 65535")
	}

	// Socket tuning
	if c.ReadTimeout <= 0 {
		errors = append(errors, "RELAY_READ_TIMEOUT must be positive")
	}
	if c.BufferSize < 1 || c.BufferSize > maxDatagramSize {
		errors = append(errors, fmt.Sprintf("RELAY_BUFFER_SIZE must be between 1 and %d", maxDatagramSize))
	}
	if c.QueueSize < 1 {
		errors = append(errors, "RELAY_QUEUE_SIZE must be at least 1")
	}

	validAnnotations := []string{"from", "compact"}
	if !contains(validAnnotations, c.AnnotationFormat) {
		errors = append(errors, fmt.Sprintf("RELAY_ANNOTATION must be one of: %s", strings.Join(validAnnotations, ", ")))
	}
	validPolicies := []string{"skip", "fatal"}
	if !contains(validPolicies, c.DecodePolicy) {
		errors = append(errors, fmt.Sprintf("RELAY_DECODE_POLICY must be one of: %s", strings.Join(validPolicies, ", ")))
	}

	if c.PeerRate < 0 {
		errors = append(errors, "RELAY_PEER_RATE must not be negative")
	}
	if c.PeerRate > 0 && c.PeerBurst < 1 {
		errors = append(errors, "RELAY_PEER_BURST must be at least 1 when RELAY_PEER_RATE is set")
	}

	// Client
	if _, _, err := net.SplitHostPort(c.ClientServerAddr); err != nil {
		errors = append(errors, fmt.Sprintf("CLIENT_SERVER_ADDR is not host:port: %v", err))
	}
	if c.ClientPollInterval <= 0 {
		errors = append(errors, "CLIENT_POLL_INTERVAL must be positive")
	}
	if c.ClientHistoryLimit < 0 {
		errors = append(errors, "CLIENT_HISTORY_LIMIT must not be negative")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// RelayAddr is the address the relay server binds to.
func (c *Config) RelayAddr() string {
	return net.JoinHostPort(c.RelayHost, strconv.Itoa(c.RelayPort))
}

// ClientAddr is the local address the chat client binds to.
func (c *Config) ClientAddr() string {
	return net.JoinHostPort(c.ClientHost, strconv.Itoa(c.ClientPort))
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
