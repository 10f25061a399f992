package workers

import (
	"context"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

type integratedWorker struct {
	*managedWorker

	configuredPort        int
	portArg               string
	readiness             ReadinessConfig
	preShutdownMethod     string
	healthCheckRunOptions monitoring.HealthCheckRunOptions

	connMutex  sync.Mutex
	connection control.Connection
	gateway    control.Gateway
	port       int
}

func NewIntegratedWorker(id string, unit *IntegratedUnit, options WorkerOptions, logger logging.Logger) Worker {
	portArg := unit.PortArg
	if portArg == "" {
		portArg = DefaultPortArg
	}

	return &integratedWorker{
		managedWorker:         newManagedWorker(id, domain.UnitKindIntegrated, unit.Metadata, unit.Control, unit.Logging, options, logger),
		configuredPort:        unit.Port,
		portArg:               portArg,
		readiness:             unit.Readiness,
		preShutdownMethod:     unit.PreShutdownMethod,
		healthCheckRunOptions: unit.HealthCheckRunOptions,
	}
}

func (w *integratedWorker) Info() WorkerInfo {
	info := w.managedWorker.Info()
	w.connMutex.Lock()
	info.Port = w.port
	w.connMutex.Unlock()
	return info
}

// HealthCheckTimeout overrides the master's per-check timeout when set
func (w *integratedWorker) HealthCheckTimeout() time.Duration {
	return w.healthCheckRunOptions.Timeout
}

// Start spawns the process with its listening port, connects and waits for readiness
func (w *integratedWorker) Start(ctx context.Context) error {
	spawn := func(ctx context.Context, port int) error {
		execution := w.processControlConfig.Execution
		execution.Args = append(append([]string(nil), execution.Args...), w.portArg, strconv.Itoa(port))

		w.connMutex.Lock()
		w.port = port
		w.connMutex.Unlock()

		return w.managedWorker.start(ctx, execution)
	}

	options := control.ConnectionOptions{}
	if w.configuredPort > 0 {
		if err := spawn(ctx, w.configuredPort); err != nil {
			return err
		}
		options.AttachPort = w.configuredPort
	} else {
		options.Spawn = spawn
	}

	connection, err := control.NewConnection(ctx, options, w.logger)
	if err != nil {
		return errors.NewProcessError("failed to connect to integrated worker", err).WithContext("id", w.id)
	}
	gateway := control.NewGateway(connection.GRPC(), w.logger)

	w.connMutex.Lock()
	previous := w.connection
	w.connection = connection
	w.gateway = gateway
	port := w.port
	w.connMutex.Unlock()
	if previous != nil {
		previous.Close()
	}

	if err := w.pidManager.WritePortFile(w.id, port); err != nil {
		w.logger.Errorf("Failed to write port file, id: %s, error: %v", w.id, err)
	} else {
		w.logger.Debugf("Port file written, id: %s, path: %s, port: %d", w.id, w.pidManager.GeneratePortFilePath(w.id), port)
	}

	attempts := w.readiness.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultReadinessAttempts
	}
	interval := w.readiness.RetryInterval
	if interval <= 0 {
		interval = DefaultReadinessInterval
	}
	err = control.RetryPing(ctx, gateway, control.RetryPingOptions{
		RetryAttempts: attempts,
		RetryInterval: interval,
		Deadline:      w.readiness.Deadline,
		Clock:         w.options.Clock,
	}, w.logger)
	if err != nil {
		return errors.NewNotReadyError("integrated worker never became ready", err).
			WithContext("id", w.id).
			WithContext("port", port)
	}

	w.logger.Infof("Integrated worker ready, id: %s, port: %d", w.id, port)
	return nil
}

func (w *integratedWorker) Stop(ctx context.Context) error {
	err := w.managedWorker.Stop(ctx)

	w.connMutex.Lock()
	connection := w.connection
	w.connection = nil
	w.connMutex.Unlock()

	if connection != nil {
		if closeErr := connection.Close(); closeErr != nil {
			w.logger.Debugf("Connection close, id: %s, error: %v", w.id, closeErr)
		}
	}
	return err
}

func (w *integratedWorker) Restart(ctx context.Context) error {
	pc := w.processControl()
	if pc == nil || pc.GetState() != processcontrol.ProcessStateStopped {
		return w.managedWorker.Restart(ctx)
	}
	// a stopped worker needs a new port, connection and readiness wait
	return w.Start(ctx)
}

func (w *integratedWorker) Gateway() control.Gateway {
	w.connMutex.Lock()
	defer w.connMutex.Unlock()
	return w.gateway
}

// CheckHealth pings the worker's gRPC health service
func (w *integratedWorker) CheckHealth(ctx context.Context) error {
	return w.Ping(ctx)
}

func (w *integratedWorker) Ping(ctx context.Context) error {
	gateway := w.Gateway()
	if gateway == nil {
		return errors.NewNotReadyError("worker has no connection", nil).WithContext("id", w.id)
	}
	return gateway.Ping(ctx)
}

func (w *integratedWorker) Call(ctx context.Context, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error) {
	gateway := w.Gateway()
	if gateway == nil {
		return nil, errors.NewNotReadyError("worker has no connection", nil).WithContext("id", w.id)
	}
	return gateway.Call(ctx, method, request, timeout)
}

// PreShutdown invokes the configured business method; without one it does nothing
func (w *integratedWorker) PreShutdown(ctx context.Context) error {
	if w.preShutdownMethod == "" {
		return nil
	}

	timeout := DefaultPreShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	w.logger.Infof("Running pre-shutdown hook, id: %s, method: %s", w.id, w.preShutdownMethod)
	_, err := w.Call(ctx, w.preShutdownMethod, nil, timeout)
	return err
}
