package master

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/registry"
	"github.com/core-tools/hsu-master/pkg/workers"
)

func (m *Master) runDiscoveryLoop(ctx context.Context, watcher *monitoring.DiscoveryWatcher) {
	defer m.loops.Done()

	var wake <-chan struct{}
	if watcher != nil {
		wake = watcher.Wake()
	}

	m.logger.Infof("Discovery loop started, interval: %v, watching: %t", m.options.DiscoveryInterval, watcher != nil)
	for {
		timer := m.clock.NewTimer(m.options.DiscoveryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Infof("Discovery loop stopped")
			return
		case <-timer.Chan():
		case <-wake:
			timer.Stop()
			m.logger.Debugf("Discovery woken by PID file change")
		}

		m.runDiscoveryPass(ctx)
	}
}

// runDiscoveryPass locates every unit the master does not own. A found unit is running,
// or unhealthy when its health check fails; a miss is unknown, never stopped.
func (m *Master) runDiscoveryPass(ctx context.Context) {
	var wg sync.WaitGroup
	for _, record := range m.registry.List() {
		if record.Status == registry.StatusStopped {
			continue
		}
		discoverer, ok := record.Unit.(workers.Discoverer)
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
			m.discoverUnit(ctx, worker, discoverer)
		}()
	}
	wg.Wait()
}

func (m *Master) discoverUnit(ctx context.Context, worker workers.Worker, discoverer workers.Discoverer) {
	id := worker.ID()
	ticket, err := m.registry.BeginCheck(id)
	if err != nil {
		m.logger.Debugf("Discovery skipped, id: %s, error: %v", id, err)
		return
	}

	discoverCtx, cancel := context.WithTimeout(ctx, m.healthCheckTimeout(worker))
	defer cancel()

	status := registry.StatusRunning
	result, cause := discoverer.Discover(discoverCtx)
	if ctx.Err() != nil {
		return
	}
	if cause != nil {
		status = registry.StatusUnknown
		m.logger.Debugf("Unit not discovered, id: %s, error: %v", id, cause)
	} else {
		m.logger.Debugf("Unit discovered, id: %s, method: %s, pid: %d", id, result.Method, result.PID)
		if checker, ok := worker.(workers.HealthChecker); ok {
			if cause = checker.CheckHealth(discoverCtx); cause != nil {
				status = registry.StatusUnhealthy
			}
		}
	}

	if _, err := m.registry.ApplyCheck(id, ticket, status, cause); err != nil {
		m.logger.Debugf("Discovery result not applied, id: %s, status: %s, error: %v", id, status, err)
	}
}
