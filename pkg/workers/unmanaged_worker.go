package workers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
)

const (
	defaultUnmanagedGracefulTimeout = 10 * time.Second
	terminatePollInterval           = 100 * time.Millisecond
)

type unmanagedWorker struct {
	id                   string
	metadata             UnitMetadata
	discoveryConfig      process.DiscoveryConfig
	processControlConfig SystemProcessControlConfig
	checker              monitoring.Checker
	usage                *usageMonitor
	clock                clock.Clock
	logger               logging.Logger

	pid  atomic.Int64
	port atomic.Int64
}

func NewUnmanagedWorker(id string, unit *UnmanagedUnit, options WorkerOptions, logger logging.Logger) Worker {
	clk := options.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	w := &unmanagedWorker{
		id:                   id,
		metadata:             unit.Metadata,
		discoveryConfig:      unit.Discovery,
		processControlConfig: unit.Control,
		usage:                newUsageMonitor(unit.Limits),
		clock:                clk,
		logger:               logger,
	}

	if unit.HealthCheck.Type != "" {
		checker, err := monitoring.NewChecker(unit.HealthCheck, w.currentPID)
		if err != nil {
			logger.Warnf("Invalid health check for unmanaged worker, falling back to discovery, id: %s, error: %v", id, err)
		} else {
			w.checker = checker
		}
	}
	return w
}

func (w *unmanagedWorker) ID() string {
	return w.id
}

func (w *unmanagedWorker) Kind() domain.UnitKind {
	return domain.UnitKindUnmanaged
}

func (w *unmanagedWorker) Metadata() UnitMetadata {
	return w.metadata
}

func (w *unmanagedWorker) Info() WorkerInfo {
	return WorkerInfo{
		PID:  w.currentPID(),
		Port: int(w.port.Load()),
	}
}

// Discover locates the process; a miss clears the remembered PID
func (w *unmanagedWorker) Discover(ctx context.Context) (*process.DiscoveryResult, error) {
	result, err := process.Discover(ctx, w.discoveryConfig)
	if err != nil {
		if previous := w.pid.Swap(0); previous != 0 {
			w.logger.Warnf("Unmanaged worker lost, id: %s, previous PID: %d, error: %v", w.id, previous, err)
		}
		return nil, err
	}

	if previous := w.pid.Swap(int64(result.PID)); previous != int64(result.PID) {
		w.logger.Infof("Unmanaged worker discovered, id: %s, method: %s, PID: %d", w.id, result.Method, result.PID)
	}
	w.port.Store(int64(result.Port))
	return result, nil
}

// CheckHealth runs the configured health check; without one, the discovered PID must still be alive
func (w *unmanagedWorker) CheckHealth(ctx context.Context) error {
	if w.checker != nil {
		return w.checker.Check(ctx)
	}

	pid := w.currentPID()
	if pid == 0 {
		// port discovery proves liveness without a PID
		return nil
	}
	running, err := process.IsProcessRunning(pid)
	if err != nil {
		return errors.NewHealthCheckError("failed to check process", err).WithContext("pid", pid)
	}
	if !running {
		return errors.NewHealthCheckError("process is not running", nil).WithContext("pid", pid)
	}
	return nil
}

func (w *unmanagedWorker) TerminateOnShutdown() bool {
	return w.processControlConfig.CanTerminate && w.processControlConfig.TerminateOnShutdown
}

// Terminate sends the graceful terminate signal and waits for the process to go away
func (w *unmanagedWorker) Terminate(ctx context.Context) error {
	if !w.processControlConfig.CanTerminate {
		return errors.NewUnsupportedError("termination is not allowed for this worker", nil).WithContext("id", w.id)
	}
	pid := w.currentPID()
	if pid == 0 {
		return errors.NewProcessError("worker process is not discovered", nil).WithContext("id", w.id)
	}

	w.logger.Infof("Terminating unmanaged worker, id: %s, PID: %d", w.id, pid)
	if err := process.TerminatePID(pid); err != nil {
		return err
	}

	timeout := w.processControlConfig.GracefulTimeout
	if timeout <= 0 {
		timeout = defaultUnmanagedGracefulTimeout
	}
	deadline := w.clock.NewTimer(timeout)
	defer deadline.Stop()

	for {
		running, err := process.IsProcessRunning(pid)
		if err == nil && !running {
			w.pid.CompareAndSwap(int64(pid), 0)
			return nil
		}

		poll := w.clock.NewTimer(terminatePollInterval)
		select {
		case <-poll.Chan():
		case <-deadline.Chan():
			poll.Stop()
			return errors.NewTimeoutError("process did not exit after terminate signal", nil).
				WithContext("id", w.id).
				WithContext("pid", pid)
		case <-ctx.Done():
			poll.Stop()
			return errors.NewCancelledError("terminate wait cancelled", ctx.Err())
		}
	}
}

func (w *unmanagedWorker) SampleUsage() (*resourcelimits.ResourceUsage, []*resourcelimits.ResourceViolation, error) {
	return w.usage.sample(w.currentPID())
}

func (w *unmanagedWorker) currentPID() int {
	return int(w.pid.Load())
}
