package processcontrol

import (
	"time"

	"github.com/core-tools/hsu-master/pkg/process"
)

// ProcessState represents the current lifecycle state of the process control
type ProcessState string

const (
	ProcessStateIdle       ProcessState = "idle"       // No process, ready to start
	ProcessStateStarting   ProcessState = "starting"   // Initial spawn in progress
	ProcessStateRunning    ProcessState = "running"    // Process running normally
	ProcessStateRestarting ProcessState = "restarting" // Process exited, respawn pending
	ProcessStateStopping   ProcessState = "stopping"   // Graceful shutdown initiated
	ProcessStateStopped    ProcessState = "stopped"    // Terminal: stopped, exhausted or never started successfully
)

// ProcessDiagnostics provides detailed process status information
type ProcessDiagnostics struct {
	State          ProcessState
	ProcessID      int
	StartTime      *time.Time
	ExecutablePath string

	// Restarts counts successful respawns, automatic or manual
	Restarts int
	// ConsecutiveFailures counts restart attempts since the process last ran for the stable uptime
	ConsecutiveFailures int

	LastExit  *process.ExitStatus
	LastError string
}
