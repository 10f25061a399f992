package monitoring

import (
	"context"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
)

type HealthCheckType string

const (
	HealthCheckTypeHTTP    HealthCheckType = "http"
	HealthCheckTypeGRPC    HealthCheckType = "grpc"
	HealthCheckTypeTCP     HealthCheckType = "tcp"
	HealthCheckTypeExec    HealthCheckType = "exec"
	HealthCheckTypeProcess HealthCheckType = "process"
)

type HTTPHealthCheckConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type GRPCHealthCheckConfig struct {
	Address string `yaml:"address"`
	Service string `yaml:"service,omitempty"` // Empty checks overall server health
}

type TCPHealthCheckConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type ExecHealthCheckConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`
	GRPC GRPCHealthCheckConfig `yaml:"grpc,omitempty"`
	TCP  TCPHealthCheckConfig  `yaml:"tcp,omitempty"`
	Exec ExecHealthCheckConfig `yaml:"exec,omitempty"`

	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

// HealthCheckRunOptions overrides the master-wide health settings for one unit
type HealthCheckRunOptions struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Checker performs a single health probe; a nil error means healthy
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// PIDFunc reports the PID a process check should look at, 0 when there is none
type PIDFunc func() int

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// NewChecker builds the checker described by config
func NewChecker(config HealthCheckConfig, pid PIDFunc) (Checker, error) {
	if err := ValidateHealthCheckConfig(config); err != nil {
		return nil, err
	}

	switch config.Type {
	case HealthCheckTypeHTTP:
		return newHTTPChecker(config.HTTP), nil
	case HealthCheckTypeGRPC:
		return newGRPCChecker(config.GRPC), nil
	case HealthCheckTypeTCP:
		return newTCPChecker(config.TCP), nil
	case HealthCheckTypeExec:
		return newExecChecker(config.Exec), nil
	case HealthCheckTypeProcess:
		if pid == nil {
			return nil, errors.NewValidationError("process health check requires a PID source", nil)
		}
		return newProcessChecker(pid), nil
	default:
		return nil, errors.NewValidationError("unsupported health check type: "+string(config.Type), nil)
	}
}

// CloseChecker releases resources held by checkers that keep a connection open
func CloseChecker(checker Checker) error {
	if closer, ok := checker.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// probeError classifies a failed probe: ctx expiry is a timeout, anything else a health check failure
func probeError(ctx context.Context, message string, cause error) *errors.DomainError {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(message, cause)
	}
	if ctx.Err() != nil {
		return errors.NewCancelledError(message, cause)
	}
	return errors.NewHealthCheckError(message, cause)
}
