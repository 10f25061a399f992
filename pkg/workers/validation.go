package workers

import (
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/monitoring"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

func ValidateManagedUnit(config ManagedUnit) error {
	// Validate metadata
	if config.Metadata.Name == "" {
		return errors.NewValidationError("unit name is required", nil)
	}

	if err := validateManagedControl(config.Control); err != nil {
		return err
	}

	if config.HealthCheck.Type != "" {
		if err := monitoring.ValidateHealthCheckConfig(config.HealthCheck); err != nil {
			return err
		}
	}

	return nil
}

func ValidateUnmanagedUnit(config UnmanagedUnit) error {
	// Validate metadata
	if config.Metadata.Name == "" {
		return errors.NewValidationError("unit name is required", nil)
	}

	// Validate discovery config
	if err := process.ValidateDiscoveryConfig(config.Discovery); err != nil {
		return err
	}

	if config.Control.TerminateOnShutdown && !config.Control.CanTerminate {
		return errors.NewValidationError("terminate_on_shutdown requires can_terminate", nil)
	}
	if config.Control.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil)
	}

	// Validate health check if specified
	if config.HealthCheck.Type != "" {
		if err := monitoring.ValidateHealthCheckConfig(config.HealthCheck); err != nil {
			return err
		}
	}

	return resourcelimits.ValidateResourceLimits(config.Limits)
}

func ValidateIntegratedUnit(config IntegratedUnit) error {
	// Validate metadata
	if config.Metadata.Name == "" {
		return errors.NewValidationError("unit name is required", nil)
	}

	if err := validateManagedControl(config.Control); err != nil {
		return err
	}

	if config.Port < 0 || config.Port > 65535 {
		return errors.NewValidationError("port must be between 0 and 65535", nil).WithContext("port", config.Port)
	}
	if config.Readiness.RetryAttempts < 0 || config.Readiness.RetryInterval < 0 || config.Readiness.Deadline < 0 {
		return errors.NewValidationError("readiness settings cannot be negative", nil)
	}

	return monitoring.ValidateHealthCheckRunOptions(config.HealthCheckRunOptions)
}

func validateManagedControl(control processcontrol.ManagedProcessControlConfig) error {
	// Validate execution config
	if control.Execution.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}
	if err := process.ValidateExecutionConfig(control.Execution); err != nil {
		return err
	}

	if err := processcontrol.ValidateRestartConfig(control.Restart); err != nil {
		return errors.NewValidationError("invalid restart configuration", err)
	}

	if control.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil)
	}

	if err := resourcelimits.ValidateResourceLimits(control.Limits); err != nil {
		return errors.NewValidationError("invalid resource limits configuration", err)
	}

	return nil
}
