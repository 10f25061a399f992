package master

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/metrics"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/registry"
	"github.com/core-tools/hsu-master/pkg/workers"
)

// MasterState represents the current state of the master
type MasterState string

const (
	// MasterStateInitializing is the state before and during unit startup
	MasterStateInitializing MasterState = "initializing"

	// MasterStateServing means all required units started and the loops are running
	MasterStateServing MasterState = "serving"

	// MasterStateDraining means units are being stopped
	MasterStateDraining MasterState = "draining"

	// MasterStateTerminated is final
	MasterStateTerminated MasterState = "terminated"
)

type MasterOptions struct {
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	DiscoveryInterval   time.Duration

	ShutdownTimeout    time.Duration
	PreShutdownTimeout time.Duration

	UnhealthyPolicy           UnhealthyPolicy
	UnhealthyRestartThreshold int

	// PID file directories watched to wake discovery early
	DiscoveryDirectories []string

	Clock   clock.Clock
	Metrics *metrics.MasterMetrics
}

func (o MasterOptions) withDefaults() MasterOptions {
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.PreShutdownTimeout <= 0 {
		o.PreShutdownTimeout = workers.DefaultPreShutdownTimeout
	}
	if o.UnhealthyPolicy == "" {
		o.UnhealthyPolicy = UnhealthyPolicyNone
	}
	if o.UnhealthyRestartThreshold <= 0 {
		o.UnhealthyRestartThreshold = DefaultUnhealthyRestartThreshold
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewMasterMetrics()
	}
	return o
}

// Master owns the unit registry and drives startup, health checking, discovery and shutdown
type Master struct {
	options    MasterOptions
	instanceID string
	clock      clock.Clock
	logger     logging.Logger
	registry   *registry.Registry
	metrics    *metrics.MasterMetrics

	mutex     sync.Mutex
	state     MasterState
	startedAt time.Time
	workers   map[string]workers.Worker
	order     []string
	trackers  map[string]*monitoring.HealthTracker

	// ctx is the root context of every health check, discovery pass, startup and retry wait
	ctx    context.Context
	cancel context.CancelFunc

	startup    sync.WaitGroup
	loops      sync.WaitGroup
	terminated chan struct{}
	stopErr    error
}

var _ domain.Contract = (*Master)(nil)

func NewMaster(options MasterOptions, logger logging.Logger) *Master {
	options = options.withDefaults()

	m := &Master{
		options:    options,
		instanceID: uuid.NewString(),
		clock:      options.Clock,
		logger:     logger,
		metrics:    options.Metrics,
		state:      MasterStateInitializing,
		workers:    make(map[string]workers.Worker),
		trackers:   make(map[string]*monitoring.HealthTracker),
		terminated: make(chan struct{}),
	}
	m.registry = registry.NewRegistry(registry.RegistryOptions{
		Clock:    options.Clock,
		Observer: m.onUnitTransition,
	})
	m.metrics.SetMasterState("", string(MasterStateInitializing))

	logger.Infof("Master created, instance_id: %s, health_interval: %v, health_timeout: %v, discovery_interval: %v, unhealthy_policy: %s",
		m.instanceID, options.HealthCheckInterval, options.HealthCheckTimeout, options.DiscoveryInterval, options.UnhealthyPolicy)
	return m
}

// WorkerOptions returns base with the callbacks through which workers report to this master
func (m *Master) WorkerOptions(base workers.WorkerOptions) workers.WorkerOptions {
	base.OnStatusChange = m.onWorkerStatusChange
	base.OnRestart = m.onWorkerRestart
	if base.Clock == nil {
		base.Clock = m.clock
	}
	return base
}

func (m *Master) AddWorker(worker workers.Worker) error {
	if worker == nil {
		return errors.NewValidationError("worker cannot be nil", nil)
	}

	id := worker.ID()
	if err := ValidateWorkerID(id); err != nil {
		return errors.NewValidationError("invalid worker ID", err).WithContext("worker_id", id)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != MasterStateInitializing || m.ctx != nil {
		return errors.NewConflictError("workers can only be added before the master starts", nil).
			WithContext("worker_id", id).
			WithContext("state", m.state)
	}
	if _, exists := m.workers[id]; exists {
		return errors.NewDuplicateUnitError("worker already exists", nil).WithContext("worker_id", id)
	}

	m.workers[id] = worker
	m.order = append(m.order, id)
	m.trackers[id] = monitoring.NewHealthTracker(id, m.logger)

	metadata := worker.Metadata()
	m.logger.Infof("Worker added, id: %s, kind: %s, required: %t, depends_on: %v",
		id, worker.Kind(), metadata.Required, metadata.DependsOn)
	return nil
}

func (m *Master) InstanceID() string {
	return m.instanceID
}

func (m *Master) State() MasterState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// Terminated is closed once the master reaches MasterStateTerminated
func (m *Master) Terminated() <-chan struct{} {
	return m.terminated
}

// setStateLocked must be called with m.mutex held
func (m *Master) setStateLocked(state MasterState) {
	if m.state == state {
		return
	}
	m.logger.Infof("Master state changed, from: %s, to: %s", m.state, state)
	m.metrics.SetMasterState(string(m.state), string(state))
	m.state = state
}

func (m *Master) worker(id string) (workers.Worker, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	worker, exists := m.workers[id]
	if !exists {
		return nil, errors.NewNotFoundError("worker not found", nil).WithContext("worker_id", id)
	}
	return worker, nil
}

func (m *Master) tracker(id string) *monitoring.HealthTracker {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.trackers[id]
}

// snapshot returns workers in registration order
func (m *Master) snapshot() []workers.Worker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make([]workers.Worker, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.workers[id])
	}
	return result
}

func (m *Master) dependencyGraph() *dependencyGraph {
	graph := newDependencyGraph()
	for _, worker := range m.snapshot() {
		graph.add(worker.ID(), worker.Metadata().DependsOn)
	}
	return graph
}

func (m *Master) onUnitTransition(id string, from, to registry.UnitStatus) {
	if from == "" {
		m.logger.Debugf("Unit registered, id: %s, status: %s", id, to)
	} else {
		m.logger.Infof("Unit status changed, id: %s, from: %s, to: %s", id, from, to)
	}
	m.metrics.SetUnitStatus(id, string(from), string(to))
}

func (m *Master) onWorkerStatusChange(id string, status registry.UnitStatus, cause error) {
	if err := m.registry.UpdateStatusWithError(id, status, cause); err != nil {
		m.logger.Debugf("Worker status change not applied, id: %s, status: %s, error: %v", id, status, err)
	}
}

func (m *Master) onWorkerRestart(id string, reason string) {
	m.metrics.IncUnitRestarts(id, reason)
	if tracker := m.tracker(id); tracker != nil {
		tracker.Reset()
	}
}

// markStopped records the terminal status; a unit that is already stopped or removed is left alone
func (m *Master) markStopped(id string, cause error) {
	if err := m.registry.UpdateStatusWithError(id, registry.StatusStopped, cause); err != nil {
		m.logger.Debugf("Stopped status not applied, id: %s, error: %v", id, err)
	}
}

func (m *Master) unitInfo(record registry.Record) domain.UnitInfo {
	info := domain.UnitInfo{
		ID:          record.ID,
		Status:      string(record.Status),
		StatusSince: record.StatusSince,
		LastCheck:   record.LastCheck,
		LastError:   record.LastError,
	}
	if worker, ok := record.Unit.(workers.Worker); ok {
		workerInfo := worker.Info()
		info.Kind = worker.Kind()
		info.Required = worker.Metadata().Required
		info.PID = workerInfo.PID
		info.Port = workerInfo.Port
		info.Restarts = workerInfo.Restarts
	}
	return info
}

// Contract implementation

// Ping answers the core contract: the master is alive while it is serving
func (m *Master) Ping(ctx context.Context) error {
	state := m.State()
	if state != MasterStateServing {
		return errors.NewNotReadyError("master is not serving", nil).WithContext("state", state)
	}
	return nil
}

func (m *Master) Status(ctx context.Context) (*domain.MasterStatus, error) {
	m.mutex.Lock()
	state, startedAt := m.state, m.startedAt
	m.mutex.Unlock()

	units := make(map[string]int)
	for _, record := range m.registry.List() {
		units[string(record.Status)]++
	}

	return &domain.MasterStatus{
		InstanceID: m.instanceID,
		State:      string(state),
		StartedAt:  startedAt,
		Units:      units,
	}, nil
}

func (m *Master) ListUnits(ctx context.Context) ([]domain.UnitInfo, error) {
	records := m.registry.List()
	infos := make([]domain.UnitInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, m.unitInfo(record))
	}
	return infos, nil
}

func (m *Master) GetUnit(ctx context.Context, id string) (*domain.UnitInfo, error) {
	record, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	info := m.unitInfo(record)
	return &info, nil
}

// CallUnit forwards a business call to the unit's gateway
func (m *Master) CallUnit(ctx context.Context, id string, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error) {
	if timeout <= 0 {
		return nil, errors.NewValidationError("call timeout must be positive", nil).WithContext("id", id)
	}

	record, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	caller, ok := record.Unit.(workers.Caller)
	if !ok {
		return nil, errors.NewUnsupportedError("unit does not accept business calls", nil).
			WithContext("id", id).
			WithContext("kind", m.unitInfo(record).Kind)
	}
	if record.Status == registry.StatusStopped || record.Status == registry.StatusStarting {
		return nil, errors.NewNotReadyError("unit is not serving", nil).
			WithContext("id", id).
			WithContext("status", record.Status)
	}

	response, err := caller.Call(ctx, method, request, timeout)
	m.metrics.IncUnitCalls(id, err)
	if err != nil {
		m.logger.Debugf("Unit call failed, id: %s, method: %s, error: %v", id, method, err)
		return nil, err
	}
	return response, nil
}

// RestartUnit restarts the unit's process; a stopped unit is started again with a fresh record
func (m *Master) RestartUnit(ctx context.Context, id string) error {
	if state := m.State(); state != MasterStateServing {
		return errors.NewNotReadyError("master is not serving", nil).WithContext("state", state)
	}

	worker, err := m.worker(id)
	if err != nil {
		return err
	}
	lifecycle, ok := worker.(workers.Lifecycle)
	if !ok {
		return errors.NewUnsupportedError("unit cannot be restarted by the master", nil).
			WithContext("id", id).
			WithContext("kind", worker.Kind())
	}

	record, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	recreated := false
	if record.Status == registry.StatusStopped {
		if _, err := m.registry.Remove(id); err != nil {
			return err
		}
		if err := m.registry.Register(worker, registry.StatusStarting); err != nil {
			return err
		}
		recreated = true
	}

	restartCtx, cancel := m.withRoot(ctx)
	defer cancel()

	m.logger.Infof("Restarting unit, id: %s, status: %s", id, record.Status)
	if err := lifecycle.Restart(restartCtx); err != nil {
		m.logger.Errorf("Unit restart failed, id: %s, error: %v", id, err)
		if recreated {
			m.markStopped(id, err)
		}
		return err
	}

	if tracker := m.tracker(id); tracker != nil {
		tracker.Reset()
	}
	if recreated {
		if err := m.registry.UpdateStatus(id, registry.StatusRunning); err != nil {
			m.logger.Warnf("Restarted unit status not applied, id: %s, error: %v", id, err)
		}
	}
	return nil
}

// withRoot derives a context cancelled by either ctx or master shutdown
func (m *Master) withRoot(ctx context.Context) (context.Context, context.CancelFunc) {
	m.mutex.Lock()
	root := m.ctx
	m.mutex.Unlock()

	merged, cancel := context.WithCancel(ctx)
	if root == nil {
		return merged, cancel
	}
	stop := context.AfterFunc(root, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
