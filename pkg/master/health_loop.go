package master

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/registry"
	"github.com/core-tools/hsu-master/pkg/workers"
)

// healthCheckTimeoutProvider is implemented by workers that override the master-wide check timeout
type healthCheckTimeoutProvider interface {
	HealthCheckTimeout() time.Duration
}

func (m *Master) runHealthLoop(ctx context.Context) {
	defer m.loops.Done()

	m.logger.Infof("Health loop started, interval: %v, timeout: %v", m.options.HealthCheckInterval, m.options.HealthCheckTimeout)
	for {
		timer := m.clock.NewTimer(m.options.HealthCheckInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Infof("Health loop stopped")
			return
		case <-timer.Chan():
		}

		m.runHealthCycle(ctx)
	}
}

// runHealthCycle checks every running or unhealthy unit, each in its own goroutine under its own
// timeout, then samples resource usage. A check that overruns its timeout is recorded as a
// timeout and its late result is discarded, so no unit can hold up the others.
func (m *Master) runHealthCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, record := range m.registry.List() {
		if record.Status != registry.StatusRunning && record.Status != registry.StatusUnhealthy {
			continue
		}
		checker, ok := record.Unit.(workers.HealthChecker)
		if !ok {
			continue
		}
		worker, ok := record.Unit.(workers.Worker)
		if !ok {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.checkUnit(ctx, worker, checker)
		}()
	}
	wg.Wait()

	if ctx.Err() == nil {
		m.sampleResourceUsage()
	}
}

func (m *Master) healthCheckTimeout(worker workers.Worker) time.Duration {
	if provider, ok := worker.(healthCheckTimeoutProvider); ok {
		if timeout := provider.HealthCheckTimeout(); timeout > 0 {
			return timeout
		}
	}
	return m.options.HealthCheckTimeout
}

func (m *Master) checkUnit(ctx context.Context, worker workers.Worker, checker workers.HealthChecker) {
	id := worker.ID()
	ticket, err := m.registry.BeginCheck(id)
	if err != nil {
		m.logger.Debugf("Health check skipped, id: %s, error: %v", id, err)
		return
	}

	timeout := m.healthCheckTimeout(worker)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := m.clock.Now()
	result := make(chan error, 1)
	go func() {
		result <- checker.CheckHealth(checkCtx)
	}()

	var checkErr error
	select {
	case checkErr = <-result:
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			return
		}
		checkErr = errors.NewTimeoutError("health check timed out", checkCtx.Err()).
			WithContext("id", id).
			WithContext("timeout", timeout)
	}
	if checkErr != nil && ctx.Err() != nil {
		return
	}

	m.applyHealthResult(ctx, worker, ticket, checkErr, m.clock.Now().Sub(started))
}

func (m *Master) applyHealthResult(ctx context.Context, worker workers.Worker, ticket uint64, checkErr error, duration time.Duration) {
	id := worker.ID()
	m.metrics.ObserveHealthCheck(id, checkErr == nil, duration)

	status := registry.StatusRunning
	if checkErr != nil {
		status = registry.StatusUnhealthy
	}

	applied, err := m.registry.ApplyCheck(id, ticket, status, checkErr)
	if err != nil {
		m.logger.Debugf("Health result not applied, id: %s, status: %s, error: %v", id, status, err)
		return
	}
	if !applied {
		m.logger.Debugf("Stale health result dropped, id: %s, ticket: %d", id, ticket)
		return
	}

	tracker := m.tracker(id)
	if tracker == nil {
		return
	}
	state := tracker.Record(m.clock.Now(), checkErr)

	if checkErr == nil || m.options.UnhealthyPolicy != UnhealthyPolicyRestart {
		return
	}
	if state.ConsecutiveFailures < m.options.UnhealthyRestartThreshold {
		return
	}
	lifecycle, ok := worker.(workers.Lifecycle)
	if !ok {
		return
	}

	tracker.Reset()
	m.logger.Warnf("Restarting unhealthy unit, id: %s, consecutive_failures: %d", id, state.ConsecutiveFailures)

	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		if err := lifecycle.Restart(ctx); err != nil {
			m.logger.Errorf("Unhealthy unit restart failed, id: %s, error: %v", id, err)
		}
	}()
}

// sampleResourceUsage reports advisory limit violations; nothing is enforced
func (m *Master) sampleResourceUsage() {
	for _, record := range m.registry.List() {
		if record.Status != registry.StatusRunning && record.Status != registry.StatusUnhealthy {
			continue
		}
		monitor, ok := record.Unit.(workers.ResourceMonitor)
		if !ok {
			continue
		}

		usage, violations, err := monitor.SampleUsage()
		if err != nil {
			m.logger.Debugf("Resource usage not sampled, id: %s, error: %v", record.ID, err)
			continue
		}
		m.logger.Debugf("Resource usage, id: %s, rss: %d, cpu_percent: %.1f, fds: %d, threads: %d",
			record.ID, usage.MemoryRSS, usage.CPUPercent, usage.OpenFileDescriptors, usage.Threads)

		for _, violation := range violations {
			m.logger.Warnf("Resource limit violation, id: %s, limit: %s, severity: %s, message: %s",
				record.ID, violation.LimitType, violation.Severity, violation.Message)
			m.metrics.IncResourceViolation(record.ID, string(violation.LimitType), string(violation.Severity))
		}
	}
}
