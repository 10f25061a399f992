package processcontrol

import (
	"time"

	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/processfile"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
)

// ManagedProcessControlConfig defines configuration for managed processes
type ManagedProcessControlConfig struct {
	// Process execution
	Execution process.ExecutionConfig `yaml:"execution"`

	// PID file configuration (optional)
	ProcessFile processfile.ProcessFileConfig `yaml:"process_file,omitempty"`

	// Process restart
	Restart RestartConfig `yaml:"restart,omitempty"`

	// Advisory resource limits, violations are reported and never enforced
	Limits resourcelimits.ResourceLimits `yaml:"limits,omitempty"`

	// Graceful shutdown
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"` // Time to wait for graceful shutdown
}
