package processcontrol

import (
	"context"
	"time"

	"github.com/juju/clock"

	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/process"
)

// ProcessControl defines the interface for controlling a process lifecycle
type ProcessControl interface {
	// Start spawns the process; spawn failures are returned synchronously
	Start(ctx context.Context) error

	// Stop terminates the process gracefully, then kills it after the graceful timeout.
	// Stopping an idle or stopped controller is a no-op.
	Stop(ctx context.Context) error

	// Restart terminates the current process and spawns a new one immediately
	Restart(ctx context.Context) error

	// GetState returns the current process state
	GetState() ProcessState

	// GetDiagnostics returns detailed process diagnostics including error information
	GetDiagnostics() ProcessDiagnostics

	// Stopped is closed once the controller reaches ProcessStateStopped
	Stopped() <-chan struct{}
}

// StateChangeFunc is called for every state transition, in order, outside internal locks
type StateChangeFunc func(from, to ProcessState)

// ProcessStartedFunc is called after every successful spawn
type ProcessStartedFunc func(pid int)

// ProcessControlOptions provides configuration for ProcessControl instances
type ProcessControlOptions struct {
	// Process start
	Execution process.ExecutionConfig
	Spawner   process.Spawner

	// Process restart
	Restart RestartConfig

	// Graceful shutdown
	GracefulTimeout time.Duration

	// Log collection, nil discards process output
	LogCollectionService logcollection.LogCollectionService

	// Time source for backoff and graceful timeouts
	Clock clock.Clock

	// Observers
	OnStateChange    StateChangeFunc
	OnProcessStarted ProcessStartedFunc
}
