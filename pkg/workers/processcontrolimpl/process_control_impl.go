package processcontrolimpl

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

const (
	defaultGracefulTimeout = 10 * time.Second
	killWaitTimeout        = 5 * time.Second
)

// processRun is one spawned incarnation of the controlled process
type processRun struct {
	proc    process.Process
	started time.Time
	exited  chan struct{}
	exit    process.ExitStatus // valid once exited is closed
}

type stateChange struct {
	from, to processcontrol.ProcessState
}

type processControl struct {
	config   processcontrol.ProcessControlOptions
	workerID string
	logger   logging.Logger
	clock    clock.Clock
	breaker  RestartCircuitBreaker

	// lifecycleMutex serializes spawns with the stop decision
	lifecycleMutex sync.Mutex

	mutex          sync.Mutex
	state          processcontrol.ProcessState
	current        *processRun
	restarts       int
	lastExit       *process.ExitStatus
	lastError      string
	stopRequested  bool
	stopped        chan struct{}
	pendingRestart chan struct{} // closed to cancel a scheduled respawn

	notifyMutex sync.Mutex
	pending     []stateChange
}

func NewProcessControl(config processcontrol.ProcessControlOptions, workerID string, logger logging.Logger) processcontrol.ProcessControl {
	config.Restart = config.Restart.WithDefaults()
	if config.GracefulTimeout <= 0 {
		config.GracefulTimeout = defaultGracefulTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Spawner == nil {
		config.Spawner = process.NewStdSpawner(logger)
	}

	return &processControl{
		config:   config,
		workerID: workerID,
		logger:   logger,
		clock:    config.Clock,
		breaker:  NewRestartCircuitBreaker(config.Restart, workerID, logger),
		state:    processcontrol.ProcessStateIdle,
		stopped:  make(chan struct{}),
	}
}

func (pc *processControl) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	pc.lifecycleMutex.Lock()
	defer pc.lifecycleMutex.Unlock()

	pc.mutex.Lock()
	if pc.state != processcontrol.ProcessStateIdle {
		state := pc.state
		pc.mutex.Unlock()
		return errors.NewConflictError(fmt.Sprintf("cannot start process in state '%s'", state), nil).
			WithContext("id", pc.workerID)
	}
	pc.setStateLocked(processcontrol.ProcessStateStarting)
	pc.mutex.Unlock()
	pc.flushStateChanges()

	pc.logger.Infof("Starting process control, id: %s, executable: %s", pc.workerID, pc.config.Execution.ExecutablePath)

	run, err := pc.spawn(ctx)
	if err != nil {
		pc.mutex.Lock()
		pc.lastError = err.Error()
		pc.setStateLocked(processcontrol.ProcessStateStopped)
		pc.mutex.Unlock()
		pc.flushStateChanges()
		return err
	}

	pc.attach(run)
	pc.logger.Infof("Process control started, id: %s, pid: %d", pc.workerID, run.proc.PID())
	return nil
}

func (pc *processControl) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	pc.lifecycleMutex.Lock()
	pc.mutex.Lock()

	if pc.state == processcontrol.ProcessStateIdle {
		pc.mutex.Unlock()
		pc.lifecycleMutex.Unlock()
		return nil
	}

	if pc.stopRequested || pc.state == processcontrol.ProcessStateStopped {
		stopped := pc.stopped
		pc.mutex.Unlock()
		pc.lifecycleMutex.Unlock()

		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return errors.NewTimeoutError("timed out waiting for process to stop", ctx.Err()).WithContext("id", pc.workerID)
		}
	}

	pc.stopRequested = true
	pc.cancelPendingRestartLocked()
	run := pc.current
	pc.setStateLocked(processcontrol.ProcessStateStopping)
	pc.mutex.Unlock()
	pc.lifecycleMutex.Unlock()
	pc.flushStateChanges()

	pc.logger.Infof("Stopping process control, id: %s", pc.workerID)

	var stopErr error
	if run != nil {
		stopErr = pc.terminate(ctx, run)
	}

	pc.mutex.Lock()
	pc.current = nil
	if stopErr != nil {
		pc.lastError = stopErr.Error()
	}
	pc.setStateLocked(processcontrol.ProcessStateStopped)
	pc.mutex.Unlock()
	pc.flushStateChanges()

	if stopErr != nil {
		pc.logger.Errorf("Process control stopped with error, id: %s, error: %v", pc.workerID, stopErr)
		return stopErr
	}
	pc.logger.Infof("Process control stopped, id: %s", pc.workerID)
	return nil
}

func (pc *processControl) Restart(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	pc.lifecycleMutex.Lock()
	defer pc.lifecycleMutex.Unlock()

	pc.mutex.Lock()
	if pc.stopRequested || (pc.state != processcontrol.ProcessStateRunning && pc.state != processcontrol.ProcessStateRestarting) {
		state := pc.state
		pc.mutex.Unlock()
		return errors.NewConflictError(fmt.Sprintf("cannot restart process in state '%s'", state), nil).
			WithContext("id", pc.workerID)
	}
	pc.cancelPendingRestartLocked()
	run := pc.current
	pc.current = nil
	pc.setStateLocked(processcontrol.ProcessStateRestarting)
	pc.mutex.Unlock()
	pc.flushStateChanges()

	pc.logger.Infof("Manual restart requested, id: %s", pc.workerID)

	if run != nil {
		if err := pc.terminate(ctx, run); err != nil {
			pc.logger.Warnf("Previous process did not exit cleanly during restart, id: %s, error: %v", pc.workerID, err)
		}
	}

	newRun, err := pc.spawn(ctx)
	if err != nil {
		pc.mutex.Lock()
		pc.lastError = err.Error()
		pc.retryOrStopLocked(0)
		pc.mutex.Unlock()
		pc.flushStateChanges()
		return err
	}

	pc.mutex.Lock()
	pc.restarts++
	pc.mutex.Unlock()

	pc.attach(newRun)
	pc.logger.Infof("Manual restart completed, id: %s, pid: %d", pc.workerID, newRun.proc.PID())
	return nil
}

func (pc *processControl) GetState() processcontrol.ProcessState {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return pc.state
}

func (pc *processControl) GetDiagnostics() processcontrol.ProcessDiagnostics {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	diagnostics := processcontrol.ProcessDiagnostics{
		State:               pc.state,
		ExecutablePath:      pc.config.Execution.ExecutablePath,
		Restarts:            pc.restarts,
		ConsecutiveFailures: pc.breaker.GetState().RestartAttempts,
		LastError:           pc.lastError,
	}
	if pc.current != nil {
		started := pc.current.started
		diagnostics.ProcessID = pc.current.proc.PID()
		diagnostics.StartTime = &started
	}
	if pc.lastExit != nil {
		exit := *pc.lastExit
		diagnostics.LastExit = &exit
	}
	return diagnostics
}

func (pc *processControl) Stopped() <-chan struct{} {
	return pc.stopped
}

func (pc *processControl) spawn(ctx context.Context) (*processRun, error) {
	proc, err := pc.config.Spawner.Spawn(ctx, pc.config.Execution)
	if err != nil {
		pc.logger.Errorf("Failed to spawn process, id: %s, error: %v", pc.workerID, err)
		return nil, err
	}
	return &processRun{
		proc:    proc,
		started: pc.clock.Now(),
		exited:  make(chan struct{}),
	}, nil
}

// attach makes run the current process; callers hold lifecycleMutex
func (pc *processControl) attach(run *processRun) {
	pc.mutex.Lock()
	pc.current = run
	pc.setStateLocked(processcontrol.ProcessStateRunning)
	pc.mutex.Unlock()

	pc.collectOutput(run)
	go pc.watch(run)

	pc.flushStateChanges()
	if pc.config.OnProcessStarted != nil {
		pc.config.OnProcessStarted(run.proc.PID())
	}
}

func (pc *processControl) collectOutput(run *processRun) {
	streams := []struct {
		reader     io.Reader
		streamType logcollection.StreamType
	}{
		{run.proc.Stdout(), logcollection.StreamStdout},
		{run.proc.Stderr(), logcollection.StreamStderr},
	}

	for _, stream := range streams {
		if stream.reader == nil {
			continue
		}
		if pc.config.LogCollectionService != nil {
			err := pc.config.LogCollectionService.CollectFromStream(pc.workerID, stream.reader, stream.streamType)
			if err == nil {
				continue
			}
			pc.logger.Warnf("Failed to start log collection, id: %s, stream: %s, error: %v", pc.workerID, stream.streamType, err)
		}
		// nobody reads the pipe otherwise and the child would block on a full buffer
		go io.Copy(io.Discard, stream.reader)
	}
}

func (pc *processControl) watch(run *processRun) {
	run.exit = run.proc.Wait()
	close(run.exited)
	pc.handleExit(run)
}

func (pc *processControl) handleExit(run *processRun) {
	pc.mutex.Lock()
	exit := run.exit
	pc.lastExit = &exit

	if pc.current != run || pc.stopRequested {
		pc.mutex.Unlock()
		return
	}
	pc.current = nil

	uptime := pc.clock.Now().Sub(run.started)
	pc.logger.Warnf("Process exited, id: %s, pid: %d, code: %d, signaled: %t, uptime: %v",
		pc.workerID, run.proc.PID(), exit.Code, exit.Signaled, uptime)

	if !pc.config.Restart.ShouldRestart(exit) {
		pc.logger.Infof("Restart policy does not restart this exit, id: %s, policy: %s", pc.workerID, pc.config.Restart.Policy)
		pc.setStateLocked(processcontrol.ProcessStateStopped)
	} else {
		pc.retryOrStopLocked(uptime)
	}
	pc.mutex.Unlock()
	pc.flushStateChanges()
}

// retryOrStopLocked consults the circuit breaker and either schedules a respawn or stops
func (pc *processControl) retryOrStopLocked(uptime time.Duration) {
	delay, err := pc.breaker.Allow(uptime, pc.clock.Now())
	if err != nil {
		pc.lastError = err.Error()
		pc.setStateLocked(processcontrol.ProcessStateStopped)
		return
	}

	pc.setStateLocked(processcontrol.ProcessStateRestarting)
	cancel := make(chan struct{})
	pc.pendingRestart = cancel
	timer := pc.clock.NewTimer(delay)

	go func() {
		select {
		case <-timer.Chan():
			pc.respawn(cancel)
		case <-cancel:
			timer.Stop()
		}
	}()
}

func (pc *processControl) cancelPendingRestartLocked() {
	if pc.pendingRestart != nil {
		close(pc.pendingRestart)
		pc.pendingRestart = nil
	}
}

func (pc *processControl) respawn(cancel chan struct{}) {
	pc.lifecycleMutex.Lock()
	defer pc.lifecycleMutex.Unlock()

	pc.mutex.Lock()
	if pc.stopRequested || pc.pendingRestart != cancel {
		pc.mutex.Unlock()
		return
	}
	pc.pendingRestart = nil
	pc.mutex.Unlock()

	pc.logger.Infof("Restarting process, id: %s", pc.workerID)

	run, err := pc.spawn(context.Background())
	if err != nil {
		pc.mutex.Lock()
		pc.lastError = err.Error()
		pc.retryOrStopLocked(0)
		pc.mutex.Unlock()
		pc.flushStateChanges()
		return
	}

	pc.mutex.Lock()
	pc.restarts++
	restarts := pc.restarts
	pc.mutex.Unlock()

	pc.attach(run)
	pc.logger.Infof("Process restarted, id: %s, pid: %d, restarts: %d", pc.workerID, run.proc.PID(), restarts)
}

// terminate sends the graceful signal and escalates to kill after the graceful timeout or ctx expiry
func (pc *processControl) terminate(ctx context.Context, run *processRun) error {
	pid := run.proc.PID()
	pc.logger.Infof("Terminating process, id: %s, pid: %d, graceful_timeout: %v", pc.workerID, pid, pc.config.GracefulTimeout)

	if err := run.proc.Terminate(); err != nil {
		pc.logger.Warnf("Failed to send terminate signal, id: %s, pid: %d, error: %v", pc.workerID, pid, err)
	}

	graceful := pc.clock.NewTimer(pc.config.GracefulTimeout)
	select {
	case <-run.exited:
		graceful.Stop()
		return nil
	case <-graceful.Chan():
		pc.logger.Warnf("Graceful timeout expired, killing process, id: %s, pid: %d", pc.workerID, pid)
	case <-ctx.Done():
		graceful.Stop()
		pc.logger.Warnf("Stop context done, killing process, id: %s, pid: %d", pc.workerID, pid)
	}

	if err := run.proc.Kill(); err != nil {
		pc.logger.Warnf("Failed to kill process, id: %s, pid: %d, error: %v", pc.workerID, pid, err)
	}

	killWait := pc.clock.NewTimer(killWaitTimeout)
	defer killWait.Stop()
	select {
	case <-run.exited:
		return nil
	case <-killWait.Chan():
		return errors.NewTimeoutError("process did not exit after kill", nil).
			WithContext("id", pc.workerID).
			WithContext("pid", pid)
	}
}

// setStateLocked records a transition for delivery by flushStateChanges
func (pc *processControl) setStateLocked(to processcontrol.ProcessState) {
	from := pc.state
	if from == to {
		return
	}
	pc.state = to
	pc.pending = append(pc.pending, stateChange{from: from, to: to})
	if to == processcontrol.ProcessStateStopped {
		close(pc.stopped)
	}
	pc.logger.Debugf("Process state changed, id: %s, state: %s->%s", pc.workerID, from, to)
}

func (pc *processControl) flushStateChanges() {
	pc.notifyMutex.Lock()
	defer pc.notifyMutex.Unlock()

	for {
		pc.mutex.Lock()
		changes := pc.pending
		pc.pending = nil
		pc.mutex.Unlock()

		if len(changes) == 0 {
			return
		}
		if pc.config.OnStateChange == nil {
			continue
		}
		for _, change := range changes {
			pc.config.OnStateChange(change.from, change.to)
		}
	}
}
