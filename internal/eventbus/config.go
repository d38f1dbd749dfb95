package eventbus

import (
	"errors"
	"runtime"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/internal/retry"
)

var (
	// ErrInvalidWorkers is returned when a worker count is not positive
	ErrInvalidWorkers = errors.New("worker count must be positive")
	// ErrInvalidMaxAttempts is returned when MaxAttempts is not positive
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBackoff is returned for negative or inconsistent backoff settings
	ErrInvalidBackoff = errors.New("invalid backoff settings")
)

// Config represents configuration for a Bus
type Config struct {
	// TopicWorkers is the number of workers running topic-keyed operations
	// (register, publish, subscribe, unsubscribe, lookups)
	TopicWorkers int

	// LaneWorkers is the number of workers running (topic, subscriber)-keyed operations
	// (poll, reposition, push delivery)
	LaneWorkers int

	// MaxAttempts is the number of retries after the first handler invocation of a push
	// delivery, so a handler runs at most MaxAttempts+1 times per event
	MaxAttempts int

	// InitialBackoff is the pause before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the pause between attempts
	MaxBackoff time.Duration

	// BackoffMultiplier grows the pause after every further failed attempt.
	// 1 means constant backoff.
	BackoffMultiplier float64
}

// NewConfig creates a new Bus configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.TopicWorkers <= 0 {
		c.TopicWorkers = runtime.GOMAXPROCS(0)
	}
	if c.LaneWorkers <= 0 {
		c.LaneWorkers = 2 * runtime.GOMAXPROCS(0)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.TopicWorkers <= 0 || c.LaneWorkers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 || c.BackoffMultiplier < 1 {
		return ErrInvalidBackoff
	}
	if c.MaxBackoff > 0 && c.InitialBackoff > c.MaxBackoff {
		return ErrInvalidBackoff
	}
	return nil
}

// WithWorkers sets the topic and lane worker counts
func (c *Config) WithWorkers(topicWorkers, laneWorkers int) *Config {
	c.TopicWorkers = topicWorkers
	c.LaneWorkers = laneWorkers
	return c
}

// WithMaxAttempts sets the attempt budget of push deliveries
func (c *Config) WithMaxAttempts(n int) *Config {
	c.MaxAttempts = n
	return c
}

// WithBackoff sets the pause between delivery attempts
func (c *Config) WithBackoff(initial, max time.Duration, multiplier float64) *Config {
	c.InitialBackoff = initial
	c.MaxBackoff = max
	c.BackoffMultiplier = multiplier
	return c
}

// RetryPolicy builds the delivery retry policy described by c.
func (c *Config) RetryPolicy() retry.Policy {
	var backoff retry.Backoff
	if c.BackoffMultiplier == 1 {
		backoff = retry.Constant(c.InitialBackoff)
	} else {
		backoff = retry.Exponential(c.InitialBackoff, c.BackoffMultiplier, c.MaxBackoff)
	}
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		Backoff:     backoff,
	}
}
