//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the child in its own process group so that
// signals sent to -pid reach the whole tree
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func isExecutable(path string, mode os.FileMode) bool {
	return mode&0111 != 0
}

func wasSignaled(state *os.ProcessState) bool {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		return ws.Signaled()
	}
	return false
}

func terminateProcessGroup(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err != nil {
		// not a group leader (attached process); fall back to the single pid
		return p.Signal(syscall.SIGTERM)
	}
	return nil
}

func killProcessGroup(p *os.Process) error {
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// TerminatePID sends a graceful terminate signal to a process the master does not own
func TerminatePID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}
