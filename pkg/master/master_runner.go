package master

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"go.uber.org/zap"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/metrics"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/workers"
)

const serverStopTimeout = 5 * time.Second

type RunOptions struct {
	// Port overrides the configured master port when positive
	Port int

	// RunDuration stops the master after the given time when positive
	RunDuration time.Duration

	DisableLogCollection bool

	// CoreLogger receives the core server logs; defaults to the master logger
	CoreLogger corelogging.Logger
}

// Run serves the master described by config until a signal arrives, ctx ends or the run duration elapses
func Run(ctx context.Context, config *MasterConfig, options RunOptions, zapLogger *zap.Logger, logger logging.Logger) error {
	logger.Infof("Master runner starting...")

	if options.Port > 0 {
		config.Master.Port = options.Port
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	logger.Infof("Master port: %d, Workers: %d", config.Master.Port, len(config.Workers))

	// Log collection
	var logIntegration *LogCollectionIntegration
	if options.DisableLogCollection {
		logger.Infof("Log collection is DISABLED")
	} else {
		logIntegration = NewLogCollectionIntegration(config.LogCollection, zapLogger, logger)
		defer logIntegration.Stop()
	}

	// Master and workers
	masterMetrics := metrics.NewMasterMetrics()
	masterOptions := MasterOptionsFromConfig(config)
	masterOptions.Metrics = masterMetrics
	master := NewMaster(masterOptions, logger)

	workerOptions := workers.WorkerOptions{
		Spawner: process.NewStdSpawner(logging.WithPrefix(logger, "spawner , ")),
	}
	if logIntegration != nil {
		workerOptions.LogCollectionService = logIntegration.GetLogCollectionService()
	}

	createdWorkers, err := CreateWorkersFromConfig(config, master.WorkerOptions(workerOptions), logger)
	if err != nil {
		return errors.NewValidationError("failed to create workers from configuration", err)
	}
	for _, worker := range createdWorkers {
		if err := master.AddWorker(worker); err != nil {
			return errors.NewValidationError("failed to add worker", err).WithContext("worker_id", worker.ID())
		}
	}
	logger.Infof("Created %d workers", len(createdWorkers))

	// RPC surface
	server, err := control.NewServer(control.ServerOptions{
		Port:        config.Master.Port,
		CoreHandler: master,
		CoreLogger:  options.CoreLogger,
	}, logger)
	if err != nil {
		return errors.NewNetworkError("failed to create master server", err)
	}
	control.RegisterGRPCServerHandler(server.Registrar(), master, logger)
	server.Run()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		server.Stop(stopCtx)
	}()

	// Metrics endpoint
	if config.Master.MetricsAddress != "" {
		metricsServer := startMetricsServer(config.Master.MetricsAddress, masterMetrics, logger)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(stopCtx); err != nil {
				logger.Warnf("Metrics server shutdown failed: %v", err)
			}
		}()
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Master runner received signal: %v", receivedSignal)
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	logger.Infof("Master is ready, starting workers...")
	if err := master.Start(runCtx); err != nil {
		if runCtx.Err() != nil {
			logger.Infof("Master startup interrupted, reason: %v", context.Cause(runCtx))
			if stopErr := master.Stop(context.Background()); stopErr != nil {
				logger.Warnf("Master stopped with errors: %v", stopErr)
			}
			return nil
		}
		return errors.NewProcessError("master startup failed", err)
	}
	server.SetServing(true)

	<-runCtx.Done()
	logger.Infof("Master runner stopping, reason: %v", context.Cause(runCtx))

	server.SetServing(false)
	// Reset context to background to enable graceful shutdown
	if err := master.Stop(context.Background()); err != nil {
		logger.Warnf("Master stopped with errors: %v", err)
	}

	logger.Infof("Master runner stopped")
	return nil
}

func startMetricsServer(address string, masterMetrics *metrics.MasterMetrics, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", masterMetrics.Handler())

	metricsServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Metrics server listening, address: %s", address)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return metricsServer
}

// ValidateConfigFile validates a configuration file without loading/running
// This is useful for configuration testing and CI/CD validation
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(config *MasterConfig) ConfigSummary {
	if config == nil {
		return ConfigSummary{Error: "configuration is nil"}
	}

	summary := ConfigSummary{
		MasterPort:          config.Master.Port,
		LogLevel:            config.Master.Logging.Level,
		HealthCheckInterval: config.Master.HealthCheckInterval.String(),
		UnhealthyPolicy:     string(config.Master.UnhealthyPolicy),
		Workers:             make([]WorkerSummary, 0, len(config.Workers)),
	}

	for _, worker := range config.Workers {
		metadata := worker.Metadata()
		workerSummary := WorkerSummary{
			ID:        worker.ID,
			Type:      string(worker.Type),
			Enabled:   worker.IsEnabled(),
			Required:  metadata.Required,
			DependsOn: metadata.DependsOn,
		}

		switch worker.Type {
		case WorkerTypeManaged:
			if worker.Unit.Managed != nil {
				workerSummary.ExecutablePath = worker.Unit.Managed.Control.Execution.ExecutablePath
				workerSummary.HealthCheckType = string(worker.Unit.Managed.HealthCheck.Type)
			}
		case WorkerTypeUnmanaged:
			if worker.Unit.Unmanaged != nil {
				workerSummary.DiscoveryMethod = string(worker.Unit.Unmanaged.Discovery.Method)
				workerSummary.HealthCheckType = string(worker.Unit.Unmanaged.HealthCheck.Type)
			}
		case WorkerTypeIntegrated:
			if worker.Unit.Integrated != nil {
				workerSummary.ExecutablePath = worker.Unit.Integrated.Control.Execution.ExecutablePath
				workerSummary.HealthCheckType = "grpc"
			}
		}

		summary.Workers = append(summary.Workers, workerSummary)
		if workerSummary.Enabled {
			summary.EnabledWorkers++
		}
	}
	summary.TotalWorkers = len(summary.Workers)

	return summary
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	MasterPort          int             `json:"master_port"`
	LogLevel            string          `json:"log_level"`
	HealthCheckInterval string          `json:"health_check_interval"`
	UnhealthyPolicy     string          `json:"unhealthy_policy"`
	TotalWorkers        int             `json:"total_workers"`
	EnabledWorkers      int             `json:"enabled_workers"`
	Workers             []WorkerSummary `json:"workers"`
	Error               string          `json:"error,omitempty"`
}

// WorkerSummary provides a summary of worker configuration
type WorkerSummary struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Enabled         bool     `json:"enabled"`
	Required        bool     `json:"required"`
	DependsOn       []string `json:"depends_on,omitempty"`
	ExecutablePath  string   `json:"executable_path,omitempty"`
	DiscoveryMethod string   `json:"discovery_method,omitempty"`
	HealthCheckType string   `json:"health_check_type,omitempty"`
}
