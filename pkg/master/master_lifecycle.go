package master

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/registry"
	"github.com/core-tools/hsu-master/pkg/workers"
)

// forceStopWait bounds the wait for units killed after the shutdown deadline
const forceStopWait = 500 * time.Millisecond

// startResult is published by a unit's startup task; err is valid once done is closed
type startResult struct {
	done chan struct{}
	err  error
}

// Start registers every worker, starts the owned ones concurrently honouring depends_on,
// runs an initial discovery pass and enters serving. A required unit failing to start
// stops everything already started and terminates the master.
func (m *Master) Start(ctx context.Context) error {
	m.mutex.Lock()
	if m.state != MasterStateInitializing || m.ctx != nil {
		state := m.state
		m.mutex.Unlock()
		return errors.NewConflictError("master already started", nil).WithContext("state", state)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.startedAt = m.clock.Now()
	m.startup.Add(1)
	m.mutex.Unlock()
	defer m.startup.Done()

	graph := m.dependencyGraph()
	if err := graph.validate(); err != nil {
		m.abortStartup(err)
		return err
	}

	for _, worker := range m.snapshot() {
		status := registry.StatusUnknown
		if _, ok := worker.(workers.Lifecycle); ok {
			status = registry.StatusStarting
		}
		if err := m.registry.Register(worker, status); err != nil {
			m.abortStartup(err)
			return err
		}
	}

	startCtx, cancel := m.withRoot(ctx)
	defer cancel()

	m.logger.Infof("Starting units, count: %d", m.registry.Len())
	if err := m.startAll(startCtx, graph); err != nil {
		m.logger.Errorf("Master startup failed: %v", err)
		m.abortStartup(err)
		return err
	}
	if err := startCtx.Err(); err != nil {
		err := errors.NewCancelledError("master startup cancelled", err)
		m.abortStartup(err)
		return err
	}

	m.runDiscoveryPass(startCtx)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.state != MasterStateInitializing {
		return errors.NewCancelledError("master stopped during startup", nil).WithContext("state", m.state)
	}

	var watcher *monitoring.DiscoveryWatcher
	if len(m.options.DiscoveryDirectories) > 0 {
		var err error
		watcher, err = monitoring.NewDiscoveryWatcher(m.options.DiscoveryDirectories, 0, m.clock, m.logger)
		if err != nil {
			m.logger.Warnf("Discovery watcher unavailable, relying on the discovery interval: %v", err)
			watcher = nil
		}
	}

	m.setStateLocked(MasterStateServing)

	m.loops.Add(2)
	go m.runHealthLoop(m.ctx)
	go m.runDiscoveryLoop(m.ctx, watcher)
	if watcher != nil {
		m.loops.Add(1)
		go func() {
			defer m.loops.Done()
			watcher.Run(m.ctx)
		}()
	}

	m.logger.Infof("Master is serving, instance_id: %s", m.instanceID)
	return nil
}

func (m *Master) startAll(ctx context.Context, graph *dependencyGraph) error {
	snapshot := m.snapshot()
	results := make(map[string]*startResult, len(snapshot))
	for _, worker := range snapshot {
		results[worker.ID()] = &startResult{done: make(chan struct{})}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range snapshot {
		id := worker.ID()
		result := results[id]

		lifecycle, ok := worker.(workers.Lifecycle)
		if !ok {
			// Not owned by the master; dependents do not wait for it
			close(result.done)
			continue
		}

		g.Go(func() error {
			err := m.startUnit(gctx, worker, lifecycle, graph.dependencies(id), results)
			result.err = err
			close(result.done)

			if err == nil {
				return nil
			}
			if worker.Metadata().Required {
				return errors.NewProcessError("required unit failed to start", err).WithContext("id", id)
			}
			m.logger.Warnf("Optional unit failed to start, continuing degraded, id: %s, error: %v", id, err)
			return nil
		})
	}
	return g.Wait()
}

func (m *Master) startUnit(ctx context.Context, worker workers.Worker, lifecycle workers.Lifecycle, dependencies []string, results map[string]*startResult) error {
	id := worker.ID()

	for _, dependency := range dependencies {
		result := results[dependency]
		select {
		case <-result.done:
		case <-ctx.Done():
			err := errors.NewCancelledError("startup cancelled while waiting for dependency", ctx.Err()).
				WithContext("id", id).
				WithContext("depends_on", dependency)
			m.markStopped(id, err)
			return err
		}
		if result.err != nil {
			err := errors.NewProcessError("dependency failed to start", result.err).
				WithContext("id", id).
				WithContext("depends_on", dependency)
			m.markStopped(id, err)
			return err
		}
	}

	m.logger.Infof("Starting unit, id: %s, kind: %s, required: %t", id, worker.Kind(), worker.Metadata().Required)
	if err := lifecycle.Start(ctx); err != nil {
		m.logger.Errorf("Unit failed to start, id: %s, error: %v", id, err)
		m.releaseUnit(id, lifecycle)
		m.markStopped(id, err)
		return err
	}

	if err := m.registry.UpdateStatus(id, registry.StatusRunning); err != nil {
		m.logger.Warnf("Started unit status not applied, id: %s, error: %v", id, err)
	}
	m.logger.Infof("Unit started, id: %s", id)
	return nil
}

// releaseUnit stops whatever a failed start left behind
func (m *Master) releaseUnit(id string, lifecycle workers.Lifecycle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.options.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Stop(ctx); err != nil {
		m.logger.Warnf("Failed to release unit after failed start, id: %s, error: %v", id, err)
	}
}

// abortStartup drains the master unless a concurrent Stop already owns the drain
func (m *Master) abortStartup(cause error) {
	m.mutex.Lock()
	if m.state != MasterStateInitializing {
		m.mutex.Unlock()
		return
	}
	m.setStateLocked(MasterStateDraining)
	m.mutex.Unlock()

	m.cancel()
	m.drain(context.Background(), cause)
}

// Stop drains the master: the root context is cancelled, then units are stopped in
// reverse dependency order under the shutdown timeout. Units still stopping when the
// deadline elapses are abandoned. Stop is idempotent; later calls wait for the first.
func (m *Master) Stop(ctx context.Context) error {
	m.mutex.Lock()
	switch m.state {
	case MasterStateDraining, MasterStateTerminated:
		m.mutex.Unlock()
		select {
		case <-m.terminated:
		case <-ctx.Done():
			return errors.NewCancelledError("stop cancelled while waiting for shutdown", ctx.Err())
		}
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.stopErr
	}

	m.setStateLocked(MasterStateDraining)
	cancel := m.cancel
	m.mutex.Unlock()

	if cancel == nil {
		// Never started, nothing to stop
		m.mutex.Lock()
		m.setStateLocked(MasterStateTerminated)
		m.mutex.Unlock()
		close(m.terminated)
		return nil
	}

	cancel()
	m.startup.Wait()

	return m.drain(ctx, nil)
}

func (m *Master) drain(ctx context.Context, cause error) error {
	m.loops.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, m.options.ShutdownTimeout)
	defer cancel()

	collection := errors.NewErrorCollection()
	var abandoned []string
	waves := m.dependencyGraph().shutdownWaves()
	for i, wave := range waves {
		// waves after the deadline still run; their units see the expired context and are killed
		m.logger.Infof("Stopping units, wave: %d/%d, units: %v", i+1, len(waves), wave)
		errs, stuck := m.stopWave(shutdownCtx, wave)
		for _, err := range errs {
			collection.Add(err)
		}
		if len(stuck) > 0 {
			m.logger.Errorf("Shutdown deadline elapsed, abandoning units: %v", stuck)
			abandoned = append(abandoned, stuck...)
		}
	}
	if len(abandoned) > 0 {
		sort.Strings(abandoned)
		collection.Add(errors.NewTimeoutError("shutdown deadline elapsed", shutdownCtx.Err()).
			WithContext("abandoned", abandoned))
	}

	for _, record := range m.registry.List() {
		m.metrics.RemoveUnit(record.ID)
	}
	m.registry.Clear()

	err := collection.ToError()
	if err != nil {
		m.logger.Warnf("Master stopped with errors: %v", err)
	}

	m.mutex.Lock()
	m.stopErr = err
	m.setStateLocked(MasterStateTerminated)
	m.mutex.Unlock()
	close(m.terminated)

	if cause != nil {
		m.logger.Infof("Master terminated after failed startup, cause: %v", cause)
	} else {
		m.logger.Infof("Master terminated")
	}
	return err
}

// stopWave stops units concurrently and waits until they finish or ctx is done.
// Units still stopping after ctx is done get forceStopWait to finish their kill.
// It returns the stop errors and the units that never finished.
func (m *Master) stopWave(ctx context.Context, wave []string) ([]error, []string) {
	var (
		mutex   sync.Mutex
		errs    []error
		pending = make(map[string]bool, len(wave))
		targets []workers.Worker
		wg      sync.WaitGroup
	)

	for _, id := range wave {
		worker, err := m.worker(id)
		if err != nil {
			continue
		}
		pending[id] = true
		targets = append(targets, worker)
	}

	for _, worker := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.stopUnit(ctx, worker)

			mutex.Lock()
			defer mutex.Unlock()
			delete(pending, worker.ID())
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		timer := time.NewTimer(forceStopWait)
		select {
		case <-done:
		case <-timer.C:
		}
		timer.Stop()
	}

	mutex.Lock()
	defer mutex.Unlock()
	abandoned := make([]string, 0, len(pending))
	for id := range pending {
		abandoned = append(abandoned, id)
	}
	sort.Strings(abandoned)
	return append([]error(nil), errs...), abandoned
}

func (m *Master) stopUnit(ctx context.Context, worker workers.Worker) error {
	id := worker.ID()

	if hook, ok := worker.(workers.PreShutdownHook); ok {
		hookCtx, cancel := context.WithTimeout(ctx, m.options.PreShutdownTimeout)
		err := hook.PreShutdown(hookCtx)
		cancel()
		if err != nil {
			m.logger.Warnf("Pre-shutdown hook failed, id: %s, error: %v", id, err)
		}
	}

	var err error
	switch w := worker.(type) {
	case workers.Lifecycle:
		err = w.Stop(ctx)
	case workers.Terminator:
		if !w.TerminateOnShutdown() {
			return nil
		}
		err = w.Terminate(ctx)
	default:
		return nil
	}

	if err != nil {
		m.logger.Errorf("Failed to stop unit, id: %s, error: %v", id, err)
		m.markStopped(id, err)
		return errors.NewProcessError("failed to stop unit", err).WithContext("id", id)
	}
	m.markStopped(id, nil)
	m.logger.Infof("Unit stopped, id: %s", id)
	return nil
}
