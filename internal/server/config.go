// Package server provides configuration helpers that define runtime defaults,
// validation, and file/env loading for the relay.
package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/wsrelay/internal/logging"
)

// RateLimitConfig defines the parameters for per-connection message rate
// limiting. A zero Burst disables the limiter.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" toml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval" toml:"refill_interval"`
}

// Config holds the relay configuration.
type Config struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	MaxMessageSize int64    `yaml:"max_message_size" toml:"max_message_size"`

	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`

	// SendTimeout bounds a single delivery to one recipient.
	SendTimeout time.Duration `yaml:"send_timeout" toml:"send_timeout"`
	// BroadcastConcurrency caps in-flight sends per broadcast. Zero means
	// one goroutine per recipient.
	BroadcastConcurrency int `yaml:"broadcast_concurrency" toml:"broadcast_concurrency"`
	// ExcludeSender drops the originator from its own broadcast. The sender
	// still gets the direct acknowledgment.
	ExcludeSender bool `yaml:"exclude_sender" toml:"exclude_sender"`

	OperatorFeed    bool          `yaml:"operator_feed" toml:"operator_feed"`
	PingInterval    time.Duration `yaml:"ping_interval" toml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait" toml:"pong_wait"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	Log logging.Config `yaml:"log" toml:"log"`
}

const (
	defaultAddr            = "0.0.0.0:6000"
	defaultMaxMessageSize  = 4096
	defaultRefillInterval  = time.Second
	defaultSendTimeout     = 10 * time.Second
	defaultPingInterval    = 54 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:           defaultAddr,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			RefillInterval: defaultRefillInterval,
		},
		SendTimeout:     defaultSendTimeout,
		OperatorFeed:    true,
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		ShutdownTimeout: defaultShutdownTimeout,
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional file at
// path, and environment overrides, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	sanitizeConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil && n >= 0 {
			cfg.RateLimit.Burst = n
		}
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if timeout := os.Getenv("SEND_TIMEOUT"); timeout != "" {
		cfg.SendTimeout = parseDuration(timeout, cfg.SendTimeout)
	}

	if concurrency := os.Getenv("BROADCAST_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil && n >= 0 {
			cfg.BroadcastConcurrency = n
		}
	}

	if exclude := os.Getenv("EXCLUDE_SENDER"); exclude != "" {
		cfg.ExcludeSender = parseBool(exclude, cfg.ExcludeSender)
	}

	if feed := os.Getenv("OPERATOR_FEED"); feed != "" {
		cfg.OperatorFeed = parseBool(feed, cfg.OperatorFeed)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
}

func sanitizeConfig(cfg *Config) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	if cfg.BroadcastConcurrency < 0 {
		cfg.BroadcastConcurrency = 0
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	// Pings must land before the read deadline expires.
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval + cfg.PingInterval/9
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
}

// Validate reports configuration values that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("server address cannot be empty")
	}

	if !logging.IsValidLevel(c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// String returns a short representation of the configuration for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Addr: %s, MaxMessageSize: %d, Burst: %d/%s, ExcludeSender: %v, OperatorFeed: %v, LogLevel: %s}",
		c.Addr, c.MaxMessageSize, c.RateLimit.Burst, c.RateLimit.RefillInterval, c.ExcludeSender, c.OperatorFeed, c.Log.Level)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("1500ms") or whole seconds ("2").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return b
	}
	return defaultValue
}
