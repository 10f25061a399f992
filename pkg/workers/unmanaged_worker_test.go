package workers

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
)

func createTestUnmanagedUnit(t *testing.T, pid int) (*UnmanagedUnit, string) {
	pidFile := filepath.Join(t.TempDir(), "test-process.pid")
	if pid > 0 {
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644))
	}

	return &UnmanagedUnit{
		Metadata: UnitMetadata{
			Name:        "test-unmanaged-unit",
			Description: "Test unmanaged unit",
		},
		Discovery: process.DiscoveryConfig{
			Method:  process.DiscoveryMethodPIDFile,
			PIDFile: pidFile,
		},
		Control: SystemProcessControlConfig{
			GracefulTimeout: 5 * time.Second,
		},
	}, pidFile
}

func TestUnmanagedWorker_Capabilities(t *testing.T) {
	unit, _ := createTestUnmanagedUnit(t, 0)
	worker := NewUnmanagedWorker("unmanaged-1", unit, WorkerOptions{}, logging.NewNullLogger())

	assert.Equal(t, "unmanaged-1", worker.ID())
	assert.Equal(t, domain.UnitKindUnmanaged, worker.Kind())
	assert.Equal(t, "Test unmanaged unit", worker.Metadata().Description)

	_, isDiscoverer := worker.(Discoverer)
	_, isTerminator := worker.(Terminator)
	_, isMonitor := worker.(ResourceMonitor)
	_, isLifecycle := worker.(Lifecycle)
	_, isCaller := worker.(Caller)
	assert.True(t, isDiscoverer)
	assert.True(t, isTerminator)
	assert.True(t, isMonitor)
	assert.False(t, isLifecycle, "unmanaged workers do not own a process")
	assert.False(t, isCaller)
}

func TestUnmanagedWorker_DiscoverHitAndMiss(t *testing.T) {
	unit, pidFile := createTestUnmanagedUnit(t, os.Getpid())
	worker := NewUnmanagedWorker("unmanaged-1", unit, WorkerOptions{}, logging.NewNullLogger()).(*unmanagedWorker)

	result, err := worker.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), result.PID)
	assert.Equal(t, os.Getpid(), worker.Info().PID)
	assert.NoError(t, worker.CheckHealth(context.Background()))

	require.NoError(t, os.Remove(pidFile))
	_, err = worker.Discover(context.Background())
	assert.True(t, errors.IsDiscoveryError(err), "got %v", err)
	assert.Zero(t, worker.Info().PID)
}

func TestUnmanagedWorker_TerminateNotAllowed(t *testing.T) {
	unit, _ := createTestUnmanagedUnit(t, os.Getpid())
	worker := NewUnmanagedWorker("unmanaged-1", unit, WorkerOptions{}, logging.NewNullLogger()).(*unmanagedWorker)

	assert.False(t, worker.TerminateOnShutdown())
	err := worker.Terminate(context.Background())
	assert.True(t, errors.IsUnsupportedError(err))
}

func TestUnmanagedWorker_TerminateUndiscovered(t *testing.T) {
	unit, _ := createTestUnmanagedUnit(t, 0)
	unit.Control.CanTerminate = true
	unit.Control.TerminateOnShutdown = true
	worker := NewUnmanagedWorker("unmanaged-1", unit, WorkerOptions{}, logging.NewNullLogger()).(*unmanagedWorker)

	assert.True(t, worker.TerminateOnShutdown())
	err := worker.Terminate(context.Background())
	assert.True(t, errors.IsProcessError(err))
}

func TestUnmanagedWorker_TerminateSignalsDiscoveredProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX signals")
	}

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-exited
	})

	unit, _ := createTestUnmanagedUnit(t, cmd.Process.Pid)
	unit.Control.CanTerminate = true
	worker := NewUnmanagedWorker("unmanaged-1", unit, WorkerOptions{}, logging.NewNullLogger()).(*unmanagedWorker)

	_, err := worker.Discover(context.Background())
	require.NoError(t, err)

	require.NoError(t, worker.Terminate(context.Background()))
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Zero(t, worker.Info().PID)
}

func TestUnmanagedWorker_SampleUsage(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("usage sampling reads /proc")
	}

	unit, _ := createTestUnmanagedUnit(t, os.Getpid())
	unit.Limits = resourcelimits.ResourceLimits{
		Process: &resourcelimits.ProcessLimits{MaxThreads: 1},
	}
	worker := NewUnmanagedWorker("unmanaged-1", unit, WorkerOptions{}, logging.NewNullLogger()).(*unmanagedWorker)

	_, _, err := worker.SampleUsage()
	assert.True(t, errors.IsProcessError(err), "not discovered yet")

	_, err = worker.Discover(context.Background())
	require.NoError(t, err)

	usage, violations, err := worker.SampleUsage()
	require.NoError(t, err)
	assert.Positive(t, usage.MemoryRSS)
	require.NotEmpty(t, violations, "a Go test binary runs more than one thread")
	assert.Equal(t, resourcelimits.ResourceLimitTypeProcess, violations[0].LimitType)
}
