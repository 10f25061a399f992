package process

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/processfile"
)

type DiscoveryMethod string

const (
	DiscoveryMethodProcessName DiscoveryMethod = "process-name"
	DiscoveryMethodPort        DiscoveryMethod = "port"
	DiscoveryMethodPIDFile     DiscoveryMethod = "pid-file"
)

type DiscoveryConfig struct {
	Method DiscoveryMethod `yaml:"method"`

	// Process name discovery
	ProcessName string   `yaml:"process_name,omitempty"`
	ProcessArgs []string `yaml:"process_args,omitempty"` // Optional: every entry must appear in the command line

	// Port discovery
	Port int    `yaml:"port,omitempty"`
	Host string `yaml:"host,omitempty"`

	// PID file discovery
	PIDFile string `yaml:"pid_file,omitempty"`
}

// DiscoveryResult describes a located process. PID is zero when the method
// proves liveness without identifying the process (port probe).
type DiscoveryResult struct {
	Method DiscoveryMethod
	PID    int
	Port   int
}

const portProbeTimeout = 2 * time.Second

// Discover locates an externally running process. A miss is reported as a discovery error.
func Discover(ctx context.Context, config DiscoveryConfig) (*DiscoveryResult, error) {
	if err := ValidateDiscoveryConfig(config); err != nil {
		return nil, err
	}

	switch config.Method {
	case DiscoveryMethodPIDFile:
		pid, err := processfile.ReadIntFile(config.PIDFile)
		if err != nil {
			return nil, errors.NewDiscoveryError("failed to read PID file", err).WithContext("pid_file", config.PIDFile)
		}
		running, err := IsProcessRunning(pid)
		if !running {
			return nil, errors.NewDiscoveryError("process from PID file is not running", err).
				WithContext("pid", pid).
				WithContext("pid_file", config.PIDFile)
		}
		return &DiscoveryResult{Method: config.Method, PID: pid}, nil

	case DiscoveryMethodPort:
		host := config.Host
		if host == "" {
			host = "localhost"
		}
		address := net.JoinHostPort(host, strconv.Itoa(config.Port))
		dialer := net.Dialer{Timeout: portProbeTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, errors.NewDiscoveryError("nothing listening on port", err).WithContext("address", address)
		}
		conn.Close()
		return &DiscoveryResult{Method: config.Method, Port: config.Port}, nil

	case DiscoveryMethodProcessName:
		pid, err := findProcessByName(ctx, config.ProcessName, config.ProcessArgs)
		if err != nil {
			return nil, err
		}
		return &DiscoveryResult{Method: config.Method, PID: pid}, nil
	}

	return nil, errors.NewValidationError("unsupported discovery method", nil).WithContext("method", config.Method)
}
