//go:build !linux

package process

import (
	"context"

	"github.com/core-tools/hsu-master/pkg/errors"
)

func findProcessByName(ctx context.Context, name string, args []string) (int, error) {
	return 0, errors.NewUnsupportedError("process name discovery is only supported on linux", nil).
		WithContext("process_name", name)
}
