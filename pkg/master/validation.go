package master

import (
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
)

const maxWorkerIDLength = 64

var workerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateWorkerID validates worker ID format and constraints; IDs also name PID, port and log files
func ValidateWorkerID(id string) error {
	if id == "" {
		return errors.NewValidationError("worker ID cannot be empty", nil)
	}

	if len(id) > maxWorkerIDLength {
		return errors.NewValidationError("worker ID cannot exceed 64 characters", nil).WithContext("length", len(id))
	}

	if !workerIDPattern.MatchString(id) {
		return errors.NewValidationError("worker ID contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil).
			WithContext("worker_id", id)
	}

	return nil
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil).WithContext("port", port)
	}
	return nil
}

// ValidateNetworkAddress validates a host:port listen address; an empty host means all interfaces
func ValidateNetworkAddress(address string) error {
	if address == "" {
		return errors.NewValidationError("network address cannot be empty", nil)
	}

	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return errors.NewValidationError("invalid network address format: "+address, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}

	if err := ValidatePort(port); err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}

	return nil
}

// ValidateTimeout rejects zero and negative durations
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout <= 0 {
		return errors.NewValidationError(name+" must be positive", nil).WithContext("value", timeout)
	}
	return nil
}
