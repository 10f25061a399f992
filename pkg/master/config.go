package master

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/workers"
)

const (
	DefaultPort                      = 50055
	DefaultHealthCheckInterval       = 30 * time.Second
	DefaultHealthCheckTimeout        = 5 * time.Second
	DefaultDiscoveryInterval         = 2 * time.Minute
	DefaultShutdownTimeout           = 30 * time.Second
	DefaultUnhealthyRestartThreshold = 3
)

// MasterConfig represents the top-level configuration file structure
type MasterConfig struct {
	Master        MasterConfigOptions                `yaml:"master"`
	Workers       []WorkerConfig                     `yaml:"workers"`
	LogCollection *logcollection.LogCollectionConfig `yaml:"log_collection,omitempty"` // Optional log collection configuration
}

// MasterConfigOptions represents master-level configuration
type MasterConfigOptions struct {
	// The master listens on the loopback interface
	Port    int               `yaml:"port"`
	Logging logging.ZapConfig `yaml:"logging,omitempty"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout,omitempty"`
	DiscoveryInterval   time.Duration `yaml:"discovery_interval,omitempty"`

	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout,omitempty"`
	PreShutdownTimeout time.Duration `yaml:"pre_shutdown_timeout,omitempty"`

	UnhealthyPolicy           UnhealthyPolicy `yaml:"unhealthy_policy,omitempty"`
	UnhealthyRestartThreshold int             `yaml:"unhealthy_restart_threshold,omitempty"`

	// Prometheus endpoint, disabled when empty
	MetricsAddress string `yaml:"metrics_address,omitempty"`
}

// WorkerConfig represents a single worker configuration
type WorkerConfig struct {
	ID      string           `yaml:"id"`
	Type    WorkerType       `yaml:"type"`
	Enabled *bool            `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Unit    WorkerUnitConfig `yaml:"unit"`
}

// WorkerType represents how the worker is managed by the master
type WorkerType string

const (
	WorkerTypeManaged    WorkerType = "managed"
	WorkerTypeUnmanaged  WorkerType = "unmanaged"
	WorkerTypeIntegrated WorkerType = "integrated"
)

// UnhealthyPolicy decides what the health loop does with a unit that keeps failing checks
type UnhealthyPolicy string

const (
	UnhealthyPolicyNone    UnhealthyPolicy = "none"
	UnhealthyPolicyRestart UnhealthyPolicy = "restart"
)

// WorkerUnitConfig is a union type that holds configuration for different worker types
type WorkerUnitConfig struct {
	// Only one of these should be populated based on WorkerConfig.Type
	Managed    *workers.ManagedUnit    `yaml:"managed,omitempty"`
	Unmanaged  *workers.UnmanagedUnit  `yaml:"unmanaged,omitempty"`
	Integrated *workers.IntegratedUnit `yaml:"integrated,omitempty"`
}

func (c WorkerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Metadata returns the metadata of whichever unit section is populated
func (c WorkerConfig) Metadata() workers.UnitMetadata {
	switch {
	case c.Unit.Managed != nil:
		return c.Unit.Managed.Metadata
	case c.Unit.Unmanaged != nil:
		return c.Unit.Unmanaged.Metadata
	case c.Unit.Integrated != nil:
		return c.Unit.Integrated.Metadata
	default:
		return workers.UnitMetadata{}
	}
}

// LoadConfigFromFile loads master configuration from a YAML file
func LoadConfigFromFile(filename string) (*MasterConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("failed to load configuration", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig decodes YAML configuration and applies defaults
func ParseConfig(data []byte) (*MasterConfig, error) {
	var config MasterConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}
	return &config, nil
}

// ValidateConfig validates the entire configuration structure and reports every problem found
func ValidateConfig(config *MasterConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()

	if err := validateMasterConfig(&config.Master); err != nil {
		collection.Add(errors.NewValidationError("invalid master configuration", err))
	}

	if err := validateWorkersConfig(config.Workers); err != nil {
		collection.Add(errors.NewValidationError("invalid workers configuration", err))
	}

	return collection.ToError()
}

// MasterOptionsFromConfig translates the master section into orchestrator options
func MasterOptionsFromConfig(config *MasterConfig) MasterOptions {
	return MasterOptions{
		HealthCheckInterval:       config.Master.HealthCheckInterval,
		HealthCheckTimeout:        config.Master.HealthCheckTimeout,
		DiscoveryInterval:         config.Master.DiscoveryInterval,
		ShutdownTimeout:           config.Master.ShutdownTimeout,
		PreShutdownTimeout:        config.Master.PreShutdownTimeout,
		UnhealthyPolicy:           config.Master.UnhealthyPolicy,
		UnhealthyRestartThreshold: config.Master.UnhealthyRestartThreshold,
		DiscoveryDirectories:      discoveryDirectories(config.Workers),
	}
}

// discoveryDirectories lists the directories holding PID files that unmanaged workers are discovered by
func discoveryDirectories(workerConfigs []WorkerConfig) []string {
	var dirs []string
	for _, workerConfig := range workerConfigs {
		unit := workerConfig.Unit.Unmanaged
		if !workerConfig.IsEnabled() || unit == nil {
			continue
		}
		if unit.Discovery.Method == process.DiscoveryMethodPIDFile && unit.Discovery.PIDFile != "" {
			dirs = append(dirs, filepath.Dir(unit.Discovery.PIDFile))
		}
	}
	return dirs
}

// CreateWorkersFromConfig creates worker instances from configuration
func CreateWorkersFromConfig(config *MasterConfig, options workers.WorkerOptions, logger logging.Logger) ([]workers.Worker, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	var result []workers.Worker

	for i, workerConfig := range config.Workers {
		// Skip disabled workers (only skip if explicitly set to false)
		if !workerConfig.IsEnabled() {
			logger.Infof("Skipping disabled worker, id: %s", workerConfig.ID)
			continue
		}

		workerLogger := logging.WithPrefix(logger, fmt.Sprintf("worker: %s , ", workerConfig.ID))
		worker, err := createWorkerFromConfig(workerConfig, options, workerLogger)
		if err != nil {
			return nil, errors.NewValidationError(
				fmt.Sprintf("failed to create worker at index %d", i),
				err,
			).WithContext("worker_id", workerConfig.ID).WithContext("worker_index", i)
		}

		result = append(result, worker)
	}

	return result, nil
}

// createWorkerFromConfig creates a single worker from its configuration
func createWorkerFromConfig(config WorkerConfig, options workers.WorkerOptions, logger logging.Logger) (workers.Worker, error) {
	switch config.Type {
	case WorkerTypeManaged:
		if config.Unit.Managed == nil {
			return nil, errors.NewValidationError("managed unit configuration is required for managed worker", nil)
		}
		return workers.NewManagedWorker(config.ID, config.Unit.Managed, options, logger), nil

	case WorkerTypeUnmanaged:
		if config.Unit.Unmanaged == nil {
			return nil, errors.NewValidationError("unmanaged unit configuration is required for unmanaged worker", nil)
		}
		return workers.NewUnmanagedWorker(config.ID, config.Unit.Unmanaged, options, logger), nil

	case WorkerTypeIntegrated:
		if config.Unit.Integrated == nil {
			return nil, errors.NewValidationError("integrated unit configuration is required for integrated worker", nil)
		}
		return workers.NewIntegratedWorker(config.ID, config.Unit.Integrated, options, logger), nil

	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("unsupported worker type: %s", config.Type),
			nil,
		).WithContext("supported_types", "managed, unmanaged, integrated")
	}
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *MasterConfig) error {
	master := &config.Master
	if master.Port == 0 {
		master.Port = DefaultPort
	}
	if master.Logging.Level == "" {
		master.Logging.Level = "info"
	}
	if master.HealthCheckInterval == 0 {
		master.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if master.HealthCheckTimeout == 0 {
		master.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if master.DiscoveryInterval == 0 {
		master.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if master.ShutdownTimeout == 0 {
		master.ShutdownTimeout = DefaultShutdownTimeout
	}
	if master.PreShutdownTimeout == 0 {
		master.PreShutdownTimeout = workers.DefaultPreShutdownTimeout
	}
	if master.UnhealthyPolicy == "" {
		master.UnhealthyPolicy = UnhealthyPolicyNone
	}
	if master.UnhealthyRestartThreshold == 0 {
		master.UnhealthyRestartThreshold = DefaultUnhealthyRestartThreshold
	}

	for i := range config.Workers {
		worker := &config.Workers[i]

		if worker.Enabled == nil {
			enabled := true
			worker.Enabled = &enabled
		}

		switch worker.Type {
		case WorkerTypeManaged:
			if worker.Unit.Managed != nil {
				worker.Unit.Managed.Control.Restart = worker.Unit.Managed.Control.Restart.WithDefaults()
			}
		case WorkerTypeUnmanaged:
			if worker.Unit.Unmanaged != nil && worker.Unit.Unmanaged.Discovery.Host == "" {
				worker.Unit.Unmanaged.Discovery.Host = "127.0.0.1"
			}
		case WorkerTypeIntegrated:
			if worker.Unit.Integrated != nil {
				setIntegratedUnitDefaults(worker.Unit.Integrated)
			}
		}
	}

	return nil
}

func setIntegratedUnitDefaults(config *workers.IntegratedUnit) {
	config.Control.Restart = config.Control.Restart.WithDefaults()
	if config.PortArg == "" {
		config.PortArg = workers.DefaultPortArg
	}
	if config.Readiness.RetryAttempts == 0 {
		config.Readiness.RetryAttempts = workers.DefaultReadinessAttempts
	}
	if config.Readiness.RetryInterval == 0 {
		config.Readiness.RetryInterval = workers.DefaultReadinessInterval
	}
}

// Validation functions

func validateMasterConfig(config *MasterConfigOptions) error {
	if err := ValidatePort(config.Port); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", config.Port),
			err,
		).WithContext("valid_range", "1-65535")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.Logging.Level != "" && !containsString(validLogLevels, config.Logging.Level) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Logging.Level),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if err := ValidateTimeout(config.HealthCheckInterval, "health check interval"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.HealthCheckTimeout, "health check"); err != nil {
		return err
	}
	if config.HealthCheckTimeout > config.HealthCheckInterval {
		return errors.NewValidationError("health check timeout cannot exceed the health check interval", nil).
			WithContext("timeout", config.HealthCheckTimeout).
			WithContext("interval", config.HealthCheckInterval)
	}
	if err := ValidateTimeout(config.DiscoveryInterval, "discovery interval"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.ShutdownTimeout, "shutdown"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.PreShutdownTimeout, "pre-shutdown"); err != nil {
		return err
	}

	switch config.UnhealthyPolicy {
	case UnhealthyPolicyNone, UnhealthyPolicyRestart:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported unhealthy policy: %s", config.UnhealthyPolicy),
			nil,
		).WithContext("supported_policies", "none, restart")
	}
	if config.UnhealthyRestartThreshold < 1 {
		return errors.NewValidationError("unhealthy restart threshold must be at least 1", nil)
	}

	if config.MetricsAddress != "" {
		if err := ValidateNetworkAddress(config.MetricsAddress); err != nil {
			return errors.NewValidationError("invalid metrics address", err)
		}
	}

	return nil
}

func validateWorkersConfig(workerConfigs []WorkerConfig) error {
	if len(workerConfigs) == 0 {
		return nil // Allow empty workers list
	}

	collection := errors.NewErrorCollection()

	seenIDs := make(map[string]int)
	enabled := make(map[string]bool)
	for i, worker := range workerConfigs {
		if err := ValidateWorkerID(worker.ID); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid worker ID at index %d", i),
				err,
			).WithContext("worker_id", worker.ID))
			continue
		}

		if prevIndex, exists := seenIDs[worker.ID]; exists {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("duplicate worker ID '%s' found at indices %d and %d", worker.ID, prevIndex, i),
				nil,
			))
			continue
		}
		seenIDs[worker.ID] = i
		enabled[worker.ID] = worker.IsEnabled()

		if err := validateWorkerType(worker.Type); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid worker type at index %d", i),
				err,
			).WithContext("worker_id", worker.ID))
			continue
		}

		if err := validateWorkerUnitConfig(worker.Type, worker.Unit); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid unit configuration for worker at index %d", i),
				err,
			).WithContext("worker_id", worker.ID).WithContext("worker_type", string(worker.Type)))
		}
	}

	graph := newDependencyGraph()
	for _, worker := range workerConfigs {
		if _, known := seenIDs[worker.ID]; !known || !worker.IsEnabled() {
			continue
		}
		dependsOn := worker.Metadata().DependsOn
		for _, dependency := range dependsOn {
			isEnabled, exists := enabled[dependency]
			switch {
			case !exists:
				collection.Add(errors.NewValidationError("worker depends on an unknown worker", nil).
					WithContext("worker_id", worker.ID).
					WithContext("depends_on", dependency))
			case !isEnabled:
				collection.Add(errors.NewValidationError("worker depends on a disabled worker", nil).
					WithContext("worker_id", worker.ID).
					WithContext("depends_on", dependency))
			}
		}
		graph.add(worker.ID, dependsOn)
	}
	if err := graph.validate(); err != nil {
		collection.Add(err)
	}

	return collection.ToError()
}

func validateWorkerType(workerType WorkerType) error {
	switch workerType {
	case WorkerTypeManaged, WorkerTypeUnmanaged, WorkerTypeIntegrated:
		return nil
	}

	return errors.NewValidationError(
		fmt.Sprintf("unsupported worker type: %s", workerType),
		nil,
	).WithContext("supported_types", "managed, unmanaged, integrated")
}

func validateWorkerUnitConfig(workerType WorkerType, unitConfig WorkerUnitConfig) error {
	switch workerType {
	case WorkerTypeManaged:
		if unitConfig.Managed == nil {
			return errors.NewValidationError("managed unit configuration is required for managed worker", nil)
		}
		if unitConfig.Unmanaged != nil || unitConfig.Integrated != nil {
			return errors.NewValidationError("only managed unit configuration should be specified for managed worker", nil)
		}
		return workers.ValidateManagedUnit(*unitConfig.Managed)

	case WorkerTypeUnmanaged:
		if unitConfig.Unmanaged == nil {
			return errors.NewValidationError("unmanaged unit configuration is required for unmanaged worker", nil)
		}
		if unitConfig.Managed != nil || unitConfig.Integrated != nil {
			return errors.NewValidationError("only unmanaged unit configuration should be specified for unmanaged worker", nil)
		}
		return workers.ValidateUnmanagedUnit(*unitConfig.Unmanaged)

	case WorkerTypeIntegrated:
		if unitConfig.Integrated == nil {
			return errors.NewValidationError("integrated unit configuration is required for integrated worker", nil)
		}
		if unitConfig.Managed != nil || unitConfig.Unmanaged != nil {
			return errors.NewValidationError("only integrated unit configuration should be specified for integrated worker", nil)
		}
		return workers.ValidateIntegratedUnit(*unitConfig.Integrated)

	default:
		return errors.NewValidationError(fmt.Sprintf("unsupported worker type: %s", workerType), nil)
	}
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
