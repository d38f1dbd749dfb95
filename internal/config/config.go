// Package config loads the server configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/eventbus-go/internal/eventbus"
	"github.com/rmacdonaldsmith/eventbus-go/internal/httpapi"
)

// Environment variables that override file settings
const (
	EnvSecretKey = "EVENTBUS_SECRET_KEY"
	EnvHTTPPort  = "EVENTBUS_HTTP_PORT"
)

// Dead-letter modes
const (
	DeadLetterNone      = "none"
	DeadLetterBus       = "bus"
	DeadLetterWatermill = "watermill"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Bus        BusConfig        `yaml:"bus"`
	DeadLetter DeadLetterConfig `yaml:"deadLetter"`

	// Topics are registered at startup
	Topics []string `yaml:"topics"`
}

// ServerConfig holds the HTTP and gRPC listener settings.
type ServerConfig struct {
	HTTPPort          string        `yaml:"httpPort"`
	HealthAddress     string        `yaml:"healthAddress"`
	SecretKey         string        `yaml:"secretKey"`
	NoAuth            bool          `yaml:"noAuth"`
	PublishRate       float64       `yaml:"publishRate"`
	PublishBurst      int           `yaml:"publishBurst"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BusConfig mirrors eventbus.Config.
type BusConfig struct {
	TopicWorkers      int           `yaml:"topicWorkers"`
	LaneWorkers       int           `yaml:"laneWorkers"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
}

// DeadLetterConfig selects where failure events go.
type DeadLetterConfig struct {
	// Mode is one of none, bus or watermill
	Mode string `yaml:"mode"`

	// Topic is the Watermill topic in watermill mode
	Topic string `yaml:"topic"`

	// BufferSize is the Watermill channel buffer in watermill mode
	BufferSize int `yaml:"bufferSize"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPPort == "" {
		c.Server.HTTPPort = "8080"
	}
	if c.Server.HealthAddress == "" {
		c.Server.HealthAddress = ":9090"
	}
	if c.Server.PublishRate == 0 {
		c.Server.PublishRate = 1000
	}
	if c.Server.PublishBurst == 0 {
		c.Server.PublishBurst = 100
	}
	if c.Server.KeepaliveInterval == 0 {
		c.Server.KeepaliveInterval = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.DeadLetter.Mode == "" {
		c.DeadLetter.Mode = DeadLetterBus
	}

	defaults := eventbus.NewConfig()
	if c.Bus.TopicWorkers == 0 {
		c.Bus.TopicWorkers = defaults.TopicWorkers
	}
	if c.Bus.LaneWorkers == 0 {
		c.Bus.LaneWorkers = defaults.LaneWorkers
	}
	if c.Bus.MaxAttempts == 0 {
		c.Bus.MaxAttempts = defaults.MaxAttempts
	}
	if c.Bus.InitialBackoff == 0 {
		c.Bus.InitialBackoff = defaults.InitialBackoff
	}
	if c.Bus.MaxBackoff == 0 {
		c.Bus.MaxBackoff = defaults.MaxBackoff
	}
	if c.Bus.BackoffMultiplier == 0 {
		c.Bus.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Validate checks the configuration, including the derived bus configuration.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.HTTPPort); err != nil {
		return fmt.Errorf("%w: http port %q is not a number", ErrInvalidConfig, c.Server.HTTPPort)
	}
	if c.Server.PublishRate < 0 || c.Server.PublishBurst < 0 {
		return fmt.Errorf("%w: publish rate and burst must not be negative", ErrInvalidConfig)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	switch c.DeadLetter.Mode {
	case DeadLetterNone, DeadLetterBus, DeadLetterWatermill:
	default:
		return fmt.Errorf("%w: unknown dead-letter mode %q", ErrInvalidConfig, c.DeadLetter.Mode)
	}
	if err := c.EventBus().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv overrides file settings from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvSecretKey); v != "" {
		c.Server.SecretKey = v
	}
	if v := getenv(EnvHTTPPort); v != "" {
		c.Server.HTTPPort = v
	}
}

// EventBus returns the bus configuration.
func (c *Config) EventBus() *eventbus.Config {
	return &eventbus.Config{
		TopicWorkers:      c.Bus.TopicWorkers,
		LaneWorkers:       c.Bus.LaneWorkers,
		MaxAttempts:       c.Bus.MaxAttempts,
		InitialBackoff:    c.Bus.InitialBackoff,
		MaxBackoff:        c.Bus.MaxBackoff,
		BackoffMultiplier: c.Bus.BackoffMultiplier,
	}
}

// HTTPAPI returns the HTTP server configuration.
func (c *Config) HTTPAPI() httpapi.Config {
	return httpapi.Config{
		Port:              c.Server.HTTPPort,
		SecretKey:         c.Server.SecretKey,
		NoAuth:            c.Server.NoAuth,
		PublishRate:       c.Server.PublishRate,
		PublishBurst:      c.Server.PublishBurst,
		KeepaliveInterval: c.Server.KeepaliveInterval,
	}
}

// Parse decodes YAML data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the YAML file at path, applies environment overrides and validates.
// An empty path yields the defaults.
func Load(path string, getenv func(string) string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if getenv != nil {
		c.ApplyEnv(getenv)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
