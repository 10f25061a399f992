package workers

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/processfile"
	"github.com/core-tools/hsu-master/pkg/registry"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrolimpl"
)

type managedWorker struct {
	id                   string
	kind                 domain.UnitKind
	metadata             UnitMetadata
	processControlConfig processcontrol.ManagedProcessControlConfig
	logConfig            logcollection.UnitLogConfig
	options              WorkerOptions
	logger               logging.Logger
	pidManager           *processfile.ProcessFileManager
	usage                *usageMonitor

	// reportRunning lets controller transitions to running reach the registry
	reportRunning bool

	mutex         sync.Mutex
	control       processcontrol.ProcessControl
	checker       monitoring.Checker
	spawns        int
	manualRestart bool
}

func NewManagedWorker(id string, unit *ManagedUnit, options WorkerOptions, logger logging.Logger) Worker {
	w := newManagedWorker(id, domain.UnitKindManaged, unit.Metadata, unit.Control, unit.Logging, options, logger)
	w.reportRunning = true

	if unit.HealthCheck.Type != "" {
		checker, err := monitoring.NewChecker(unit.HealthCheck, w.currentPID)
		if err != nil {
			logger.Warnf("Invalid health check for managed worker, falling back to liveness, id: %s, error: %v", id, err)
		} else {
			w.checker = checker
		}
	}
	return w
}

func newManagedWorker(
	id string,
	kind domain.UnitKind,
	metadata UnitMetadata,
	config processcontrol.ManagedProcessControlConfig,
	logConfig logcollection.UnitLogConfig,
	options WorkerOptions,
	logger logging.Logger,
) *managedWorker {
	return &managedWorker{
		id:                   id,
		kind:                 kind,
		metadata:             metadata,
		processControlConfig: config,
		logConfig:            logConfig,
		options:              options,
		logger:               logger,
		pidManager:           processfile.NewProcessFileManager(config.ProcessFile, logger),
		usage:                newUsageMonitor(config.Limits),
	}
}

func (w *managedWorker) ID() string {
	return w.id
}

func (w *managedWorker) Kind() domain.UnitKind {
	return w.kind
}

func (w *managedWorker) Metadata() UnitMetadata {
	return w.metadata
}

func (w *managedWorker) Info() WorkerInfo {
	diagnostics := w.Diagnostics()
	return WorkerInfo{
		PID:      diagnostics.ProcessID,
		Restarts: diagnostics.Restarts,
	}
}

func (w *managedWorker) Start(ctx context.Context) error {
	return w.start(ctx, w.processControlConfig.Execution)
}

// start creates a fresh controller for execution; a stopped controller is replaced, never reused
func (w *managedWorker) start(ctx context.Context, execution process.ExecutionConfig) error {
	w.mutex.Lock()
	if w.control != nil && w.control.GetState() != processcontrol.ProcessStateStopped {
		state := w.control.GetState()
		w.mutex.Unlock()
		return errors.NewConflictError("worker is already started", nil).
			WithContext("id", w.id).
			WithContext("state", state)
	}

	if w.options.LogCollectionService != nil {
		if err := w.options.LogCollectionService.RegisterUnit(w.id, w.logConfig); err != nil {
			w.logger.Warnf("Failed to register log collection, id: %s, error: %v", w.id, err)
		}
	}

	w.logger.Infof("Starting %s worker, id: %s, executable: %s", w.kind, w.id, execution.ExecutablePath)

	pc := processcontrolimpl.NewProcessControl(processcontrol.ProcessControlOptions{
		Execution:            execution,
		Spawner:              w.options.Spawner,
		Restart:              w.processControlConfig.Restart,
		GracefulTimeout:      w.processControlConfig.GracefulTimeout,
		LogCollectionService: w.options.LogCollectionService,
		Clock:                w.options.Clock,
		OnStateChange:        w.onStateChange,
		OnProcessStarted:     w.onProcessStarted,
	}, w.id, w.logger)
	w.control = pc
	w.spawns = 0
	w.manualRestart = false
	w.mutex.Unlock()

	if err := pc.Start(ctx); err != nil {
		return errors.NewProcessError("failed to start worker", err).WithContext("id", w.id)
	}
	return nil
}

func (w *managedWorker) Stop(ctx context.Context) error {
	pc := w.processControl()
	if pc == nil {
		return nil
	}

	w.logger.Infof("Stopping %s worker, id: %s", w.kind, w.id)
	err := pc.Stop(ctx)

	if removeErr := w.pidManager.RemoveFiles(w.id); removeErr != nil {
		w.logger.Warnf("Failed to remove process files, id: %s, error: %v", w.id, removeErr)
	}
	if w.options.LogCollectionService != nil {
		if unregisterErr := w.options.LogCollectionService.UnregisterUnit(w.id); unregisterErr != nil {
			w.logger.Debugf("Log collection unregister, id: %s, error: %v", w.id, unregisterErr)
		}
	}
	return err
}

func (w *managedWorker) Restart(ctx context.Context) error {
	pc := w.processControl()
	if pc == nil {
		return errors.NewConflictError("worker is not started", nil).WithContext("id", w.id)
	}
	if pc.GetState() == processcontrol.ProcessStateStopped {
		w.logger.Infof("Recreating stopped worker, id: %s", w.id)
		return w.Start(ctx)
	}

	w.mutex.Lock()
	w.manualRestart = true
	w.mutex.Unlock()

	return pc.Restart(ctx)
}

func (w *managedWorker) Diagnostics() processcontrol.ProcessDiagnostics {
	pc := w.processControl()
	if pc == nil {
		return processcontrol.ProcessDiagnostics{
			State:          processcontrol.ProcessStateIdle,
			ExecutablePath: w.processControlConfig.Execution.ExecutablePath,
		}
	}
	return pc.GetDiagnostics()
}

// CheckHealth runs the configured health check, or reports controller liveness when none is configured
func (w *managedWorker) CheckHealth(ctx context.Context) error {
	w.mutex.Lock()
	checker := w.checker
	w.mutex.Unlock()

	if checker != nil {
		return checker.Check(ctx)
	}
	return w.checkLiveness()
}

func (w *managedWorker) checkLiveness() error {
	pc := w.processControl()
	if pc == nil {
		return errors.NewProcessError("worker is not started", nil).WithContext("id", w.id)
	}
	switch state := pc.GetState(); state {
	case processcontrol.ProcessStateRunning:
		return nil
	default:
		return errors.NewProcessError("process is not running", nil).
			WithContext("id", w.id).
			WithContext("state", state)
	}
}

func (w *managedWorker) SampleUsage() (*resourcelimits.ResourceUsage, []*resourcelimits.ResourceViolation, error) {
	return w.usage.sample(w.currentPID())
}

func (w *managedWorker) processControl() processcontrol.ProcessControl {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.control
}

func (w *managedWorker) currentPID() int {
	return w.Diagnostics().ProcessID
}

func (w *managedWorker) onStateChange(from, to processcontrol.ProcessState) {
	w.logger.Debugf("Worker process state changed, id: %s, from: %s, to: %s", w.id, from, to)

	status, ok := unitStatusFor(to)
	if !ok || w.options.OnStatusChange == nil {
		return
	}
	if status == registry.StatusRunning && (!w.reportRunning || from == processcontrol.ProcessStateStarting) {
		return
	}

	var cause error
	if to != processcontrol.ProcessStateRunning {
		if lastError := w.Diagnostics().LastError; lastError != "" {
			cause = errors.NewProcessError(lastError, nil)
		}
	}
	w.options.OnStatusChange(w.id, status, cause)
}

func (w *managedWorker) onProcessStarted(pid int) {
	w.mutex.Lock()
	w.spawns++
	spawns := w.spawns
	reason := RestartReasonCrash
	if w.manualRestart {
		reason = RestartReasonManual
		w.manualRestart = false
	}
	w.mutex.Unlock()

	if err := w.pidManager.WritePIDFile(w.id, pid); err != nil {
		w.logger.Errorf("Failed to write PID file, id: %s, error: %v", w.id, err)
	} else {
		w.logger.Debugf("PID file written, id: %s, path: %s, pid: %d", w.id, w.pidManager.GeneratePIDFilePath(w.id), pid)
	}

	if spawns > 1 {
		w.logger.Infof("Worker restarted, id: %s, pid: %d, reason: %s", w.id, pid, reason)
		if w.options.OnRestart != nil {
			w.options.OnRestart(w.id, reason)
		}
	}
}
