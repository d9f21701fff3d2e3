package evchan

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrZeroCapacity is returned when a channel is configured with a
	// capacity of 0. Such a channel could never hold an item.
	ErrZeroCapacity = errors.New("evchan: nonsensical capacity of 0")

	// ErrNegativeCapacity is returned when a channel is configured with a
	// negative capacity.
	ErrNegativeCapacity = errors.New("evchan: negative capacity")
)

type config struct {
	capacity    int
	hasCapacity bool
	notifier    *Semaphore
	logger      *zap.Logger
	name        string
}

// Option configures a [Channel].
type Option func(*config)

func defaultConfig() config {
	return config{
		logger: zap.NewNop(),
	}
}

func (c config) validate() error {
	if !c.hasCapacity {
		return nil
	}
	switch {
	case c.capacity == 0:
		return ErrZeroCapacity
	case c.capacity < 0:
		return fmt.Errorf("%w: %d", ErrNegativeCapacity, c.capacity)
	}
	return nil
}

func buildConfig(opts []Option) (config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// WithCapacity bounds the channel to n items. When an enqueue would exceed
// the bound, the oldest item is evicted. Without this option the channel
// is unbounded.
//
// n must be positive; [New] fails otherwise.
func WithCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
		c.hasCapacity = true
	}
}

// WithNotifier sets a semaphore that is released once per enqueue.
// A nil semaphore disables notification.
func WithNotifier(s *Semaphore) Option {
	return func(c *config) {
		c.notifier = s
	}
}

// WithLogger sets the logger used to report evictions and lifecycle events.
// Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// WithName attaches a human-readable name to the channel. It shows up in
// logs and in [Stats].
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}
