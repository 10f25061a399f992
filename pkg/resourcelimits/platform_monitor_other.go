//go:build !linux

package resourcelimits

import "github.com/core-tools/hsu-master/pkg/errors"

func readProcessUsage(pid int) (*ResourceUsage, error) {
	return nil, errors.NewUnsupportedError("resource usage sampling is only supported on linux", nil).WithContext("pid", pid)
}
