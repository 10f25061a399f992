//go:build linux

package resourcelimits

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-master/pkg/errors"
)

// USER_HZ is 100 on every mainstream Linux architecture
const clockTicksPerSecond = 100.0

func readProcessUsage(pid int) (*ResourceUsage, error) {
	dir := filepath.Join("/proc", strconv.Itoa(pid))
	usage := &ResourceUsage{}

	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewProcessError("process is not running", err).WithContext("pid", pid)
		}
		return nil, errors.NewIOError("failed to read process stat", err).WithContext("pid", pid)
	}
	// comm may contain spaces; fields resume after the closing paren
	if idx := bytes.LastIndexByte(stat, ')'); idx >= 0 {
		fields := strings.Fields(string(stat[idx+1:]))
		// fields[0] is state (field 3); utime is field 14, stime field 15
		if len(fields) > 12 {
			utime, _ := strconv.ParseFloat(fields[11], 64)
			stime, _ := strconv.ParseFloat(fields[12], 64)
			usage.CPUTime = (utime + stime) / clockTicksPerSecond
		}
	}

	status, err := os.Open(filepath.Join(dir, "status"))
	if err == nil {
		scanner := bufio.NewScanner(status)
		for scanner.Scan() {
			key, value, ok := strings.Cut(scanner.Text(), ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch key {
			case "VmRSS":
				usage.MemoryRSS = parseKB(value)
			case "VmSize":
				usage.MemoryVirtual = parseKB(value)
			case "Threads":
				usage.Threads, _ = strconv.Atoi(value)
			}
		}
		status.Close()
	}

	if fds, err := os.ReadDir(filepath.Join(dir, "fd")); err == nil {
		usage.OpenFileDescriptors = len(fds)
	}

	return usage, nil
}

func parseKB(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSuffix(value, " kB"), 10, 64)
	if err != nil {
		return 0
	}
	return n * 1024
}
