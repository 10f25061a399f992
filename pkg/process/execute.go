package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// ExitStatus describes how a process ended
type ExitStatus struct {
	Code     int
	Signaled bool
	Err      error
}

// Success reports a clean zero exit
func (s ExitStatus) Success() bool {
	return s.Code == 0 && !s.Signaled && s.Err == nil
}

// Process is a spawned OS process exclusively owned by one controller
type Process interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits; it may be called from one goroutine only
	Wait() ExitStatus

	// Terminate requests a graceful exit (SIGTERM to the process group on Unix)
	Terminate() error
	Kill() error
}

// Spawner starts processes; tests replace it with a fake
type Spawner interface {
	Spawn(ctx context.Context, config ExecutionConfig) (Process, error)
}

type stdSpawner struct {
	logger logging.Logger
}

func NewStdSpawner(logger logging.Logger) Spawner {
	return &stdSpawner{logger: logger}
}

func (s *stdSpawner) Spawn(ctx context.Context, execution ExecutionConfig) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("spawn cancelled", err)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		return nil, err
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, err
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	// exec.CommandContext would kill the child when the spawn context ends;
	// the controller owns the lifetime instead.
	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.WaitDelay = execution.WaitDelay
	setupProcessAttributes(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.NewIOError("failed to create stdout pipe", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.NewIOError("failed to create stderr pipe", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.logger.Debugf("Spawning process, executable: '%s', args: %v, working directory: '%s'",
		execution.ExecutablePath, execution.Args, workDir)

	startErr := cmd.Start()
	// the child holds its own copies of the write ends
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, classifyStartError(startErr).WithContext("executable_path", execution.ExecutablePath)
	}

	s.logger.Infof("Spawned process, executable: '%s', PID: %d", execution.ExecutablePath, cmd.Process.Pid)

	return &osProcess{
		cmd:    cmd,
		stdout: &closeOnEOF{f: stdoutR},
		stderr: &closeOnEOF{f: stderrR},
	}, nil
}

func classifyStartError(err error) *errors.DomainError {
	switch {
	case os.IsNotExist(err):
		return errors.NewProcessError("executable not found", err)
	case os.IsPermission(err):
		return errors.NewPermissionError("permission denied starting process", err)
	default:
		return errors.NewProcessError("failed to start the process", err)
	}
}

type osProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *osProcess) PID() int          { return p.cmd.Process.Pid }
func (p *osProcess) Stdout() io.Reader { return p.stdout }
func (p *osProcess) Stderr() io.Reader { return p.stderr }

func (p *osProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	return exitStatusFrom(p.cmd.ProcessState, err)
}

func (p *osProcess) Terminate() error {
	return terminateProcessGroup(p.cmd.Process)
}

func (p *osProcess) Kill() error {
	return killProcessGroup(p.cmd.Process)
}

func exitStatusFrom(state *os.ProcessState, waitErr error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: waitErr}
	}
	status := ExitStatus{Code: state.ExitCode(), Signaled: wasSignaled(state)}
	if _, isExit := waitErr.(*exec.ExitError); waitErr != nil && !isExit {
		status.Err = waitErr
	}
	return status
}

// closeOnEOF releases the read end of a pipe once the reader drains it
type closeOnEOF struct {
	f    *os.File
	once sync.Once
}

func (c *closeOnEOF) Read(p []byte) (int, error) {
	n, err := c.f.Read(p)
	if err != nil {
		c.once.Do(func() { c.f.Close() })
	}
	return n, err
}

// ensureExecutable checks a file is executable and sets the execute bits if it's not
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewProcessError("executable not found", err).WithContext("path", path)
		}
		return errors.NewIOError("failed to stat executable", err).WithContext("path", path)
	}
	if info.IsDir() {
		return errors.NewValidationError("executable path is a directory", nil).WithContext("path", path)
	}
	if isExecutable(path, info.Mode()) {
		return nil
	}
	if err := os.Chmod(path, info.Mode()|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
