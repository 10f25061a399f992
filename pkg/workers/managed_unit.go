package workers

import (
	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

type ManagedUnit struct {
	// Metadata
	Metadata UnitMetadata `yaml:"metadata"`

	// Discovery
	// Always use process PID file discovery

	// Process control
	Control processcontrol.ManagedProcessControlConfig `yaml:"control"`

	// Health monitoring, controller liveness when empty
	HealthCheck monitoring.HealthCheckConfig `yaml:"health_check,omitempty"`

	// Output capture
	Logging logcollection.UnitLogConfig `yaml:"logging,omitempty"`
}
