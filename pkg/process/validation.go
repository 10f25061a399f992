package process

import (
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-master/pkg/errors"
)

func ValidateDiscoveryConfig(config DiscoveryConfig) error {
	switch config.Method {
	case DiscoveryMethodPIDFile:
		if config.PIDFile == "" {
			return errors.NewValidationError("PID file path is required for PID file discovery", nil)
		}
		if !filepath.IsAbs(config.PIDFile) {
			return errors.NewValidationError("PID file path must be absolute", nil).WithContext("pid_file", config.PIDFile)
		}

	case DiscoveryMethodProcessName:
		if config.ProcessName == "" {
			return errors.NewValidationError("process name is required for process name discovery", nil)
		}

	case DiscoveryMethodPort:
		if config.Port <= 0 || config.Port > 65535 {
			return errors.NewValidationError("port must be between 1 and 65535", nil).WithContext("port", config.Port)
		}

	default:
		return errors.NewValidationError("unsupported discovery method", nil).WithContext("method", config.Method)
	}
	return nil
}

// ValidateExecutionConfig checks the static shape of an execution config;
// existence of the executable is checked at spawn time.
func ValidateExecutionConfig(config ExecutionConfig) error {
	if config.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}

	if config.WorkingDirectory != "" && !filepath.IsAbs(config.WorkingDirectory) {
		return errors.NewValidationError("working directory must be absolute path", nil).
			WithContext("working_directory", config.WorkingDirectory)
	}

	for _, env := range config.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format", nil).WithContext("env", env)
		}
	}

	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}
	return nil
}
