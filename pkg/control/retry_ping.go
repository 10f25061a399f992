package control

import (
	"context"
	"time"

	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	"github.com/juju/clock"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

const (
	defaultRetryAttempts = 10
	defaultRetryInterval = time.Second
	defaultPingTimeout   = time.Second
)

type RetryPingOptions struct {
	RetryAttempts int
	RetryInterval time.Duration
	PingTimeout   time.Duration
	// Deadline bounds the whole wait; zero leaves only the attempt count
	Deadline time.Duration
	Clock    clock.Clock
}

// readinessMarker is implemented by gateways that gate calls on readiness
type readinessMarker interface {
	MarkReady()
}

// RetryPing pings any core contract until it answers, then marks it ready if it gates on readiness.
// It fails with a not_ready error carrying the last ping error.
func RetryPing(ctx context.Context, pinger coredomain.Contract, options RetryPingOptions, logger logging.Logger) error {
	attempts := options.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	interval := options.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	pingTimeout := options.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var deadline <-chan time.Time
	if options.Deadline > 0 {
		timer := clk.NewTimer(options.Deadline)
		defer timer.Stop()
		deadline = timer.Chan()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := pinger.Ping(pingCtx)
		cancel()
		if err == nil {
			if marker, ok := pinger.(readinessMarker); ok {
				marker.MarkReady()
			}
			logger.Infof("Ping succeeded, attempt: %d", attempt)
			return nil
		}
		lastErr = err
		logger.Debugf("Ping failed, attempt: %d/%d: %v", attempt, attempts, err)

		if attempt >= attempts {
			break
		}

		wait := clk.NewTimer(interval)
		select {
		case <-wait.Chan():
		case <-deadline:
			wait.Stop()
			return errors.NewNotReadyError("readiness deadline elapsed", lastErr).
				WithContext("attempts", attempt).
				WithContext("deadline", options.Deadline)
		case <-ctx.Done():
			wait.Stop()
			return errors.NewCancelledError("readiness wait cancelled", ctx.Err())
		}
	}

	return errors.NewNotReadyError("server did not become ready", lastErr).WithContext("attempts", attempts)
}
