package workers

import (
	"time"

	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

const (
	DefaultPortArg            = "--port"
	DefaultReadinessAttempts  = 10
	DefaultReadinessInterval  = time.Second
	DefaultPreShutdownTimeout = 5 * time.Second
)

type IntegratedUnit struct {
	// Metadata
	Metadata UnitMetadata `yaml:"metadata"`

	// Discovery
	// Always use process PID file discovery

	// Process control
	Control processcontrol.ManagedProcessControlConfig `yaml:"control"`

	// Listening port passed to the process as PortArg; 0 allocates an ephemeral port
	Port    int    `yaml:"port,omitempty"`
	PortArg string `yaml:"port_arg,omitempty"`

	// Readiness retry budget
	Readiness ReadinessConfig `yaml:"readiness,omitempty"`

	// Business method invoked before the unit is stopped at master shutdown
	PreShutdownMethod string `yaml:"pre_shutdown_method,omitempty"`

	// Health monitoring always uses the gRPC health service; only run options apply
	HealthCheckRunOptions monitoring.HealthCheckRunOptions `yaml:"health_check_run_options,omitempty"`

	// Output capture
	Logging logcollection.UnitLogConfig `yaml:"logging,omitempty"`
}

type ReadinessConfig struct {
	RetryAttempts int           `yaml:"retry_attempts,omitempty"`
	RetryInterval time.Duration `yaml:"retry_interval,omitempty"`
	Deadline      time.Duration `yaml:"deadline,omitempty"`
}
