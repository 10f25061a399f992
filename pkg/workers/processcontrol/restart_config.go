package processcontrol

import (
	"math"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/process"
)

// RestartPolicy defines when a process should be restarted after it exits
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

const (
	DefaultRetryDelay   = 1 * time.Second
	DefaultBackoffRate  = 2.0
	DefaultMaxDelay     = 1 * time.Minute
	DefaultStableUptime = 30 * time.Second
)

// RestartConfig defines restart policy and retry mechanics
type RestartConfig struct {
	Policy      RestartPolicy `yaml:"policy"`
	MaxRetries  int           `yaml:"max_retries"` // 0 means unlimited
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Backoff     BackoffKind   `yaml:"backoff,omitempty"`
	BackoffRate float64       `yaml:"backoff_rate,omitempty"` // Exponential backoff multiplier
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`

	// A process that ran at least this long before exiting resets the retry count
	StableUptime time.Duration `yaml:"stable_uptime,omitempty"`
}

func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		Policy:       RestartOnFailure,
		MaxRetries:   5,
		RetryDelay:   DefaultRetryDelay,
		Backoff:      BackoffExponential,
		BackoffRate:  DefaultBackoffRate,
		MaxDelay:     DefaultMaxDelay,
		StableUptime: DefaultStableUptime,
	}
}

// WithDefaults fills unset fields
func (c RestartConfig) WithDefaults() RestartConfig {
	if c.Policy == "" {
		c.Policy = RestartOnFailure
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Backoff == "" {
		c.Backoff = BackoffFixed
	}
	if c.BackoffRate == 0 {
		c.BackoffRate = DefaultBackoffRate
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.StableUptime == 0 {
		c.StableUptime = DefaultStableUptime
	}
	return c
}

// ShouldRestart evaluates the policy against how the process exited
func (c RestartConfig) ShouldRestart(exit process.ExitStatus) bool {
	switch c.Policy {
	case RestartAlways:
		return true
	case RestartOnFailure:
		return !exit.Success()
	default:
		return false
	}
}

// Delay returns the wait before restart attempt number attempt (1-based)
func (c RestartConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.RetryDelay
	if c.Backoff == BackoffExponential {
		delay = time.Duration(float64(c.RetryDelay) * math.Pow(c.BackoffRate, float64(attempt-1)))
	}
	if c.MaxDelay > 0 && (delay > c.MaxDelay || delay < 0) {
		delay = c.MaxDelay
	}
	return delay
}

// ValidateRestartConfig validates restart configuration values
func ValidateRestartConfig(config RestartConfig) error {
	switch config.Policy {
	case RestartNever, RestartOnFailure, RestartAlways, "":
	default:
		return errors.NewValidationError("invalid restart policy: "+string(config.Policy), nil)
	}
	switch config.Backoff {
	case BackoffFixed, BackoffExponential, "":
	default:
		return errors.NewValidationError("invalid backoff: "+string(config.Backoff), nil)
	}
	if config.MaxRetries < 0 {
		return errors.NewValidationError("max retries cannot be negative", nil)
	}
	if config.RetryDelay < 0 {
		return errors.NewValidationError("retry delay cannot be negative", nil)
	}
	if config.BackoffRate != 0 && config.BackoffRate < 1.0 {
		return errors.NewValidationError("backoff rate must be at least 1.0", nil)
	}
	if config.MaxDelay < 0 {
		return errors.NewValidationError("max delay cannot be negative", nil)
	}
	if config.StableUptime < 0 {
		return errors.NewValidationError("stable uptime cannot be negative", nil)
	}
	return nil
}
