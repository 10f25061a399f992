package processcontrolimpl

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

// CircuitBreakerState provides insight into circuit breaker status
type CircuitBreakerState struct {
	IsOpen          bool
	RestartAttempts int
	LastRestartTime time.Time
}

// RestartCircuitBreaker bounds consecutive automatic restarts and computes their backoff
type RestartCircuitBreaker interface {
	// Allow records an exit after uptime and returns the delay before the next attempt,
	// or an error once the retry budget is exhausted
	Allow(uptime time.Duration, now time.Time) (time.Duration, error)
	GetState() CircuitBreakerState
	Reset()
}

func NewRestartCircuitBreaker(config processcontrol.RestartConfig, id string, logger logging.Logger) RestartCircuitBreaker {
	return &restartCircuitBreaker{
		config: config,
		id:     id,
		logger: logger,
	}
}

type restartCircuitBreaker struct {
	config processcontrol.RestartConfig
	id     string
	logger logging.Logger

	mutex              sync.Mutex
	restartAttempts    int
	lastRestartTime    time.Time
	circuitBreakerOpen bool
}

func (rcb *restartCircuitBreaker) Allow(uptime time.Duration, now time.Time) (time.Duration, error) {
	rcb.mutex.Lock()
	defer rcb.mutex.Unlock()

	if rcb.circuitBreakerOpen {
		return 0, errors.NewProcessError("restart circuit breaker is open", nil).WithContext("id", rcb.id)
	}

	if uptime >= rcb.config.StableUptime && rcb.restartAttempts > 0 {
		rcb.logger.Infof("Process ran past stable uptime, resetting restart attempts, id: %s, uptime: %v, previous attempts: %d",
			rcb.id, uptime, rcb.restartAttempts)
		rcb.restartAttempts = 0
	}

	if rcb.config.MaxRetries > 0 && rcb.restartAttempts >= rcb.config.MaxRetries {
		rcb.logger.Errorf("Max restart retries exceeded, opening circuit breaker, id: %s, attempts: %d, max: %d",
			rcb.id, rcb.restartAttempts, rcb.config.MaxRetries)
		rcb.circuitBreakerOpen = true
		return 0, errors.NewProcessError("max restart retries exceeded", nil).
			WithContext("id", rcb.id).
			WithContext("attempts", rcb.restartAttempts)
	}

	rcb.restartAttempts++
	rcb.lastRestartTime = now
	delay := rcb.config.Delay(rcb.restartAttempts)

	rcb.logger.Warnf("Scheduling restart, id: %s, attempt: %d/%d, delay: %v",
		rcb.id, rcb.restartAttempts, rcb.config.MaxRetries, delay)
	return delay, nil
}

func (rcb *restartCircuitBreaker) Reset() {
	rcb.mutex.Lock()
	defer rcb.mutex.Unlock()

	if rcb.restartAttempts > 0 || rcb.circuitBreakerOpen {
		rcb.logger.Infof("Resetting circuit breaker, id: %s, previous attempts: %d", rcb.id, rcb.restartAttempts)
	}
	rcb.restartAttempts = 0
	rcb.circuitBreakerOpen = false
	rcb.lastRestartTime = time.Time{}
}

func (rcb *restartCircuitBreaker) GetState() CircuitBreakerState {
	rcb.mutex.Lock()
	defer rcb.mutex.Unlock()
	return CircuitBreakerState{
		IsOpen:          rcb.circuitBreakerOpen,
		RestartAttempts: rcb.restartAttempts,
		LastRestartTime: rcb.lastRestartTime,
	}
}
