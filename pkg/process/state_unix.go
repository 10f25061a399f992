//go:build !windows

package process

import (
	"os"
	"syscall"

	"github.com/core-tools/hsu-master/pkg/errors"
)

// IsProcessRunning reports whether pid refers to a live process.
// Signal 0 performs the permission and existence checks without delivering anything.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if err == os.ErrProcessDone {
		return false, nil
	}
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, err
}
