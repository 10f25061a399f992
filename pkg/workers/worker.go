package workers

import (
	"context"
	"time"

	"github.com/juju/clock"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/registry"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

type UnitMetadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

// Worker is the runtime form of a configured unit. Capabilities beyond identity
// are expressed by the optional interfaces below.
type Worker interface {
	ID() string
	Kind() domain.UnitKind
	Metadata() UnitMetadata
	Info() WorkerInfo
}

// WorkerInfo is a point-in-time view of the worker's process
type WorkerInfo struct {
	PID      int
	Port     int
	Restarts int
}

// Discoverer locates a process the master does not own
type Discoverer interface {
	Discover(ctx context.Context) (*process.DiscoveryResult, error)
}

// Terminator sends the graceful terminate signal to a process the master does not own
type Terminator interface {
	Terminate(ctx context.Context) error
	TerminateOnShutdown() bool
}

// ResourceMonitor samples the worker's process usage against its advisory limits
type ResourceMonitor interface {
	SampleUsage() (*resourcelimits.ResourceUsage, []*resourcelimits.ResourceViolation, error)
}

// Lifecycle is implemented by workers that own their process
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Diagnostics() processcontrol.ProcessDiagnostics
}

type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Caller is implemented by workers that expose an RPC surface
type Caller interface {
	Ping(ctx context.Context) error
	Call(ctx context.Context, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error)
	Gateway() control.Gateway
}

// PreShutdownHook runs before the worker is stopped during master shutdown
type PreShutdownHook interface {
	PreShutdown(ctx context.Context) error
}

// StatusChangeFunc reports status changes the worker observes on its own,
// such as crashes, automatic restarts and restart exhaustion
type StatusChangeFunc func(id string, status registry.UnitStatus, cause error)

// RestartFunc reports every respawn; reason is "crash" or "manual"
type RestartFunc func(id string, reason string)

type WorkerOptions struct {
	LogCollectionService logcollection.LogCollectionService
	Spawner              process.Spawner
	Clock                clock.Clock

	OnStatusChange StatusChangeFunc
	OnRestart      RestartFunc
}

const (
	RestartReasonCrash  = "crash"
	RestartReasonManual = "manual"
)

// unitStatusFor maps controller states onto unit statuses; ok is false for
// states the registry does not track
func unitStatusFor(state processcontrol.ProcessState) (status registry.UnitStatus, ok bool) {
	switch state {
	case processcontrol.ProcessStateRunning:
		return registry.StatusRunning, true
	case processcontrol.ProcessStateRestarting:
		return registry.StatusUnhealthy, true
	case processcontrol.ProcessStateStopped:
		return registry.StatusStopped, true
	default:
		return "", false
	}
}
