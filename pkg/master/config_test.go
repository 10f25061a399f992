package master

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/workers"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

const comprehensiveConfigYAML = `
master:
  port: 50060
  logging:
    level: debug
  health_check_interval: 10s
  health_check_timeout: 2s
  shutdown_timeout: 15s
  unhealthy_policy: restart
  unhealthy_restart_threshold: 2
  metrics_address: "127.0.0.1:9090"

workers:
  - id: "db"
    type: "managed"
    unit:
      managed:
        metadata:
          name: "Database"
          required: true
        control:
          execution:
            executable_path: "/usr/bin/sleep"
            args: ["30"]
          restart:
            policy: "always"
            max_retries: 5
            retry_delay: 2s
        health_check:
          type: "tcp"
          tcp:
            address: "127.0.0.1"
            port: 5432

  - id: "cache"
    type: "unmanaged"
    unit:
      unmanaged:
        metadata:
          name: "Cache"
        discovery:
          method: "pid-file"
          pid_file: "/var/run/cache/cache.pid"

  - id: "api"
    type: "integrated"
    unit:
      integrated:
        metadata:
          name: "API"
          depends_on: ["db", "cache"]
        control:
          execution:
            executable_path: "/opt/api/api"

  - id: "legacy"
    type: "managed"
    enabled: false
    unit:
      managed:
        metadata:
          name: "Legacy"
        control:
          execution:
            executable_path: "/opt/legacy/legacy"
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func managedWorkerConfig(id string, dependsOn ...string) WorkerConfig {
	return WorkerConfig{
		ID:   id,
		Type: WorkerTypeManaged,
		Unit: WorkerUnitConfig{
			Managed: &workers.ManagedUnit{
				Metadata: workers.UnitMetadata{Name: id, DependsOn: dependsOn},
				Control: processcontrol.ManagedProcessControlConfig{
					Execution: process.ExecutionConfig{ExecutablePath: "/usr/bin/sleep", Args: []string{"30"}},
				},
			},
		},
	}
}

func validConfig(workerConfigs ...WorkerConfig) *MasterConfig {
	config := &MasterConfig{Workers: workerConfigs}
	_ = setConfigDefaults(config)
	return config
}

func TestLoadConfigFromFile(t *testing.T) {
	config, err := LoadConfigFromFile(writeConfigFile(t, comprehensiveConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 50060, config.Master.Port)
	assert.Equal(t, "debug", config.Master.Logging.Level)
	assert.Equal(t, 10*time.Second, config.Master.HealthCheckInterval)
	assert.Equal(t, 2*time.Second, config.Master.HealthCheckTimeout)
	assert.Equal(t, 15*time.Second, config.Master.ShutdownTimeout)
	assert.Equal(t, UnhealthyPolicyRestart, config.Master.UnhealthyPolicy)
	assert.Equal(t, 2, config.Master.UnhealthyRestartThreshold)
	assert.Equal(t, "127.0.0.1:9090", config.Master.MetricsAddress)
	require.Len(t, config.Workers, 4)

	db := config.Workers[0]
	assert.Equal(t, WorkerTypeManaged, db.Type)
	assert.True(t, db.IsEnabled())
	require.NotNil(t, db.Unit.Managed)
	assert.True(t, db.Metadata().Required)
	assert.Equal(t, processcontrol.RestartAlways, db.Unit.Managed.Control.Restart.Policy)
	assert.Equal(t, 5, db.Unit.Managed.Control.Restart.MaxRetries)
	assert.Equal(t, 2*time.Second, db.Unit.Managed.Control.Restart.RetryDelay)
	assert.Equal(t, monitoring.HealthCheckTypeTCP, db.Unit.Managed.HealthCheck.Type)

	cache := config.Workers[1]
	require.NotNil(t, cache.Unit.Unmanaged)
	assert.Equal(t, process.DiscoveryMethodPIDFile, cache.Unit.Unmanaged.Discovery.Method)
	assert.Equal(t, "127.0.0.1", cache.Unit.Unmanaged.Discovery.Host)

	api := config.Workers[2]
	require.NotNil(t, api.Unit.Integrated)
	assert.Equal(t, []string{"db", "cache"}, api.Metadata().DependsOn)
	assert.Equal(t, workers.DefaultPortArg, api.Unit.Integrated.PortArg)

	assert.False(t, config.Workers[3].IsEnabled())

	require.NoError(t, ValidateConfig(config))
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))

	_, err = LoadConfigFromFile(writeConfigFile(t, "master: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte(`
workers:
  - id: "worker"
    type: "managed"
    unit:
      managed:
        metadata:
          name: "Worker"
        control:
          execution:
            executable_path: "/usr/bin/true"
  - id: "integrated"
    type: "integrated"
    unit:
      integrated:
        metadata:
          name: "Integrated"
        control:
          execution:
            executable_path: "/usr/bin/true"
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, config.Master.Port)
	assert.Equal(t, "info", config.Master.Logging.Level)
	assert.Equal(t, DefaultHealthCheckInterval, config.Master.HealthCheckInterval)
	assert.Equal(t, DefaultHealthCheckTimeout, config.Master.HealthCheckTimeout)
	assert.Equal(t, DefaultDiscoveryInterval, config.Master.DiscoveryInterval)
	assert.Equal(t, DefaultShutdownTimeout, config.Master.ShutdownTimeout)
	assert.Equal(t, workers.DefaultPreShutdownTimeout, config.Master.PreShutdownTimeout)
	assert.Equal(t, UnhealthyPolicyNone, config.Master.UnhealthyPolicy)
	assert.Equal(t, DefaultUnhealthyRestartThreshold, config.Master.UnhealthyRestartThreshold)

	require.Len(t, config.Workers, 2)
	require.NotNil(t, config.Workers[0].Enabled)
	assert.True(t, *config.Workers[0].Enabled)

	restart := config.Workers[0].Unit.Managed.Control.Restart
	assert.Equal(t, processcontrol.RestartOnFailure, restart.Policy)
	assert.Equal(t, processcontrol.DefaultRetryDelay, restart.RetryDelay)
	assert.Equal(t, processcontrol.BackoffFixed, restart.Backoff)

	integrated := config.Workers[1].Unit.Integrated
	assert.Equal(t, workers.DefaultPortArg, integrated.PortArg)
	assert.Equal(t, workers.DefaultReadinessAttempts, integrated.Readiness.RetryAttempts)
	assert.Equal(t, workers.DefaultReadinessInterval, integrated.Readiness.RetryInterval)

	require.NoError(t, ValidateConfig(config))
}

func TestValidateConfig(t *testing.T) {
	disabled := false

	tests := []struct {
		name        string
		config      func() *MasterConfig
		expectError string
	}{
		{
			name:   "valid",
			config: func() *MasterConfig { return validConfig(managedWorkerConfig("a"), managedWorkerConfig("b", "a")) },
		},
		{
			name:   "empty workers",
			config: func() *MasterConfig { return validConfig() },
		},
		{
			name:        "nil config",
			config:      func() *MasterConfig { return nil },
			expectError: "configuration cannot be nil",
		},
		{
			name: "invalid port",
			config: func() *MasterConfig {
				config := validConfig()
				config.Master.Port = 70000
				return config
			},
			expectError: "invalid port number",
		},
		{
			name: "invalid log level",
			config: func() *MasterConfig {
				config := validConfig()
				config.Master.Logging.Level = "verbose"
				return config
			},
			expectError: "invalid log level",
		},
		{
			name: "timeout exceeds interval",
			config: func() *MasterConfig {
				config := validConfig()
				config.Master.HealthCheckInterval = time.Second
				config.Master.HealthCheckTimeout = 2 * time.Second
				return config
			},
			expectError: "cannot exceed the health check interval",
		},
		{
			name: "unsupported unhealthy policy",
			config: func() *MasterConfig {
				config := validConfig()
				config.Master.UnhealthyPolicy = "reboot"
				return config
			},
			expectError: "unsupported unhealthy policy",
		},
		{
			name: "invalid metrics address",
			config: func() *MasterConfig {
				config := validConfig()
				config.Master.MetricsAddress = "localhost"
				return config
			},
			expectError: "invalid metrics address",
		},
		{
			name:        "duplicate worker IDs",
			config:      func() *MasterConfig { return validConfig(managedWorkerConfig("a"), managedWorkerConfig("a")) },
			expectError: "duplicate worker ID 'a'",
		},
		{
			name:        "invalid worker ID",
			config:      func() *MasterConfig { return validConfig(managedWorkerConfig("bad id")) },
			expectError: "invalid worker ID at index 0",
		},
		{
			name: "unsupported worker type",
			config: func() *MasterConfig {
				worker := managedWorkerConfig("a")
				worker.Type = "container"
				return validConfig(worker)
			},
			expectError: "unsupported worker type: container",
		},
		{
			name: "missing unit section",
			config: func() *MasterConfig {
				worker := managedWorkerConfig("a")
				worker.Unit.Managed = nil
				return validConfig(worker)
			},
			expectError: "managed unit configuration is required",
		},
		{
			name: "missing executable",
			config: func() *MasterConfig {
				worker := managedWorkerConfig("a")
				worker.Unit.Managed.Control.Execution.ExecutablePath = ""
				return validConfig(worker)
			},
			expectError: "executable path is required",
		},
		{
			name:        "unknown dependency",
			config:      func() *MasterConfig { return validConfig(managedWorkerConfig("a", "ghost")) },
			expectError: "depends on an unknown worker",
		},
		{
			name: "disabled dependency",
			config: func() *MasterConfig {
				dependency := managedWorkerConfig("a")
				dependency.Enabled = &disabled
				config := &MasterConfig{Workers: []WorkerConfig{dependency, managedWorkerConfig("b", "a")}}
				_ = setConfigDefaults(config)
				return config
			},
			expectError: "depends on a disabled worker",
		},
		{
			name: "dependency cycle",
			config: func() *MasterConfig {
				return validConfig(managedWorkerConfig("a", "c"), managedWorkerConfig("b", "a"), managedWorkerConfig("c", "b"))
			},
			expectError: "dependency cycle detected",
		},
		{
			name:        "self dependency",
			config:      func() *MasterConfig { return validConfig(managedWorkerConfig("a", "a")) },
			expectError: "cannot depend on itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config())
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err), "expected validation error, got: %v", err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateConfig_ReportsEveryProblem(t *testing.T) {
	config := validConfig(managedWorkerConfig("a", "ghost"), managedWorkerConfig("a"))
	config.Master.UnhealthyPolicy = "reboot"

	err := ValidateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported unhealthy policy")
	assert.Contains(t, err.Error(), "duplicate worker ID")
	assert.Contains(t, err.Error(), "unknown worker")
}

func TestMasterOptionsFromConfig(t *testing.T) {
	config, err := ParseConfig([]byte(comprehensiveConfigYAML))
	require.NoError(t, err)

	options := MasterOptionsFromConfig(config)
	assert.Equal(t, 10*time.Second, options.HealthCheckInterval)
	assert.Equal(t, 2*time.Second, options.HealthCheckTimeout)
	assert.Equal(t, 15*time.Second, options.ShutdownTimeout)
	assert.Equal(t, UnhealthyPolicyRestart, options.UnhealthyPolicy)
	assert.Equal(t, 2, options.UnhealthyRestartThreshold)
	assert.Equal(t, []string{"/var/run/cache"}, options.DiscoveryDirectories)
}

func TestCreateWorkersFromConfig(t *testing.T) {
	config, err := ParseConfig([]byte(comprehensiveConfigYAML))
	require.NoError(t, err)

	created, err := CreateWorkersFromConfig(config, workers.WorkerOptions{}, logging.NewNullLogger())
	require.NoError(t, err)
	require.Len(t, created, 3, "disabled worker must be skipped")

	kinds := make(map[string]domain.UnitKind)
	for _, worker := range created {
		kinds[worker.ID()] = worker.Kind()
	}
	assert.Equal(t, map[string]domain.UnitKind{
		"db":    domain.UnitKindManaged,
		"cache": domain.UnitKindUnmanaged,
		"api":   domain.UnitKindIntegrated,
	}, kinds)

	_, isLifecycle := created[0].(workers.Lifecycle)
	assert.True(t, isLifecycle)
	_, isDiscoverer := created[1].(workers.Discoverer)
	assert.True(t, isDiscoverer)
	_, isCaller := created[2].(workers.Caller)
	assert.True(t, isCaller)
}

func TestCreateWorkersFromConfig_Errors(t *testing.T) {
	_, err := CreateWorkersFromConfig(nil, workers.WorkerOptions{}, logging.NewNullLogger())
	require.Error(t, err)

	worker := managedWorkerConfig("a")
	worker.Unit.Managed = nil
	_, err = CreateWorkersFromConfig(validConfig(worker), workers.WorkerOptions{}, logging.NewNullLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_id=a")
}

func TestGetConfigSummary(t *testing.T) {
	config, err := ParseConfig([]byte(comprehensiveConfigYAML))
	require.NoError(t, err)

	summary := GetConfigSummary(config)
	assert.Empty(t, summary.Error)
	assert.Equal(t, 50060, summary.MasterPort)
	assert.Equal(t, "debug", summary.LogLevel)
	assert.Equal(t, "10s", summary.HealthCheckInterval)
	assert.Equal(t, "restart", summary.UnhealthyPolicy)
	assert.Equal(t, 4, summary.TotalWorkers)
	assert.Equal(t, 3, summary.EnabledWorkers)

	require.Len(t, summary.Workers, 4)
	assert.Equal(t, "/usr/bin/sleep", summary.Workers[0].ExecutablePath)
	assert.Equal(t, "tcp", summary.Workers[0].HealthCheckType)
	assert.True(t, summary.Workers[0].Required)
	assert.Equal(t, "pid-file", summary.Workers[1].DiscoveryMethod)
	assert.Equal(t, "grpc", summary.Workers[2].HealthCheckType)
	assert.Equal(t, []string{"db", "cache"}, summary.Workers[2].DependsOn)
	assert.False(t, summary.Workers[3].Enabled)

	assert.Equal(t, "configuration is nil", GetConfigSummary(nil).Error)
}

func TestValidateConfigFile(t *testing.T) {
	assert.NoError(t, ValidateConfigFile(writeConfigFile(t, comprehensiveConfigYAML)))

	broken := strings.Replace(comprehensiveConfigYAML, `depends_on: ["db", "cache"]`, `depends_on: ["db", "ghost"]`, 1)
	err := ValidateConfigFile(writeConfigFile(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")

	err = ValidateConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}
