package monitoring

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-master/pkg/logging"
)

// HealthTracker accumulates consecutive check outcomes for one unit
type HealthTracker struct {
	id     string
	logger logging.Logger

	mutex sync.Mutex
	state HealthCheckState
}

func NewHealthTracker(id string, logger logging.Logger) *HealthTracker {
	return &HealthTracker{
		id:     id,
		logger: logger,
		state:  HealthCheckState{Status: HealthCheckStatusUnknown},
	}
}

// Record applies one check result and returns the resulting state
func (t *HealthTracker) Record(at time.Time, err error) HealthCheckState {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	previousStatus := t.state.Status
	t.state.LastCheck = at

	if err == nil {
		t.state.ConsecutiveSuccesses++
		t.state.ConsecutiveFailures = 0
		t.state.Message = ""
		t.state.Status = HealthCheckStatusHealthy
		if previousStatus == HealthCheckStatusUnhealthy {
			t.logger.Infof("Health check recovered, id: %s, consecutive_successes: %d", t.id, t.state.ConsecutiveSuccesses)
		}
		return t.state
	}

	t.state.ConsecutiveFailures++
	t.state.ConsecutiveSuccesses = 0
	t.state.Message = err.Error()
	t.state.Status = HealthCheckStatusUnhealthy
	if previousStatus != HealthCheckStatusUnhealthy {
		t.logger.Warnf("Health check status changed, id: %s, status: %s->%s, message: %s",
			t.id, previousStatus, t.state.Status, t.state.Message)
	} else {
		t.logger.Debugf("Health check failed, id: %s, consecutive_failures: %d, message: %s",
			t.id, t.state.ConsecutiveFailures, t.state.Message)
	}
	return t.state
}

func (t *HealthTracker) State() HealthCheckState {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.state
}

// Reset forgets accumulated results, used after a unit restart
func (t *HealthTracker) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.state = HealthCheckState{Status: HealthCheckStatusUnknown}
}
