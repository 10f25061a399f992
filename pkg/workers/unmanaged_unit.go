package workers

import (
	"time"

	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
)

type UnmanagedUnit struct {
	// Metadata
	Metadata UnitMetadata `yaml:"metadata"`

	// Discovery
	Discovery process.DiscoveryConfig `yaml:"discovery"`

	// Process control
	Control SystemProcessControlConfig `yaml:"control,omitempty"`

	// Health monitoring
	HealthCheck monitoring.HealthCheckConfig `yaml:"health_check,omitempty"`

	// Advisory resource limits
	Limits resourcelimits.ResourceLimits `yaml:"limits,omitempty"`
}

// SystemProcessControlConfig is the limited control the master has over a process it does not own
type SystemProcessControlConfig struct {
	CanTerminate bool `yaml:"can_terminate,omitempty"`

	// Send the terminate signal when the master shuts down; requires CanTerminate
	TerminateOnShutdown bool `yaml:"terminate_on_shutdown,omitempty"`

	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`
}
