//go:build linux

package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-master/pkg/errors"
)

const procRoot = "/proc"

// findProcessByName scans /proc for the lowest PID whose comm or argv[0] base
// name matches name and whose command line contains every entry of args
func findProcessByName(ctx context.Context, name string, args []string) (int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0, errors.NewIOError("failed to read /proc", err)
	}

	pids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if pid, err := strconv.Atoi(entry.Name()); err == nil && entry.IsDir() {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)

	self := os.Getpid()
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return 0, errors.NewCancelledError("process name discovery cancelled", err)
		}
		if pid == self {
			continue
		}
		if matchProcess(pid, name, args) {
			return pid, nil
		}
	}
	return 0, errors.NewDiscoveryError("no process with matching name", nil).WithContext("process_name", name)
}

func matchProcess(pid int, name string, args []string) bool {
	dir := filepath.Join(procRoot, strconv.Itoa(pid))

	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv := strings.Split(string(bytes.TrimRight(cmdline, "\x00")), "\x00")

	matched := filepath.Base(argv[0]) == name
	if !matched {
		comm, err := os.ReadFile(filepath.Join(dir, "comm"))
		matched = err == nil && strings.TrimSpace(string(comm)) == name
	}
	if !matched {
		return false
	}

	for _, want := range args {
		found := false
		for _, have := range argv[1:] {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
