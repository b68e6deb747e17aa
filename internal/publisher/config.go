package publisher

import (
	"fmt"
	"math"
	"time"
)

// Config controls the retry loop of a single Publish call.
type Config struct {
	// MaxAttempts bounds the number of submissions, including the first.
	MaxAttempts int
	// BaseDelay is the unit of the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter draws each delay uniformly from [BaseDelay, BaseDelay*2^attempt).
	Jitter bool
	// Deadline bounds the whole call. Zero means no deadline.
	Deadline time.Time
}

// DefaultConfig returns the retry settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Validate checks the config for values the retry loop cannot work with.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("%w: base delay must not be negative, got %s", ErrInvalidConfig, c.BaseDelay)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("%w: max delay must not be negative, got %s", ErrInvalidConfig, c.MaxDelay)
	}
	return nil
}

// Backoff returns the un-jittered delay after the given attempt:
// BaseDelay * 2^attempt, capped by MaxDelay when set.
func (c Config) Backoff(attempt int) time.Duration {
	if c.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}

	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// delay returns the wait before the attempt following attempt. With jitter
// enabled the value is drawn by randInt63n from [BaseDelay, Backoff(attempt)).
func (c Config) delay(attempt int, randInt63n func(int64) int64) time.Duration {
	upper := c.Backoff(attempt)
	if !c.Jitter || upper <= c.BaseDelay {
		return upper
	}
	return c.BaseDelay + time.Duration(randInt63n(int64(upper-c.BaseDelay)))
}
