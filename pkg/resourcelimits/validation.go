package resourcelimits

import "github.com/core-tools/hsu-master/pkg/errors"

func ValidateResourceLimits(limits ResourceLimits) error {
	if limits.Memory != nil {
		if limits.Memory.MaxRSS < 0 || limits.Memory.MaxVirtual < 0 {
			return errors.NewValidationError("memory limits cannot be negative", nil)
		}
		if err := validateThreshold(limits.Memory.WarningThreshold); err != nil {
			return err
		}
	}
	if limits.CPU != nil {
		if limits.CPU.MaxPercent < 0 || limits.CPU.MaxTime < 0 {
			return errors.NewValidationError("CPU limits cannot be negative", nil)
		}
		if err := validateThreshold(limits.CPU.WarningThreshold); err != nil {
			return err
		}
	}
	if limits.Process != nil {
		if limits.Process.MaxFileDescriptors < 0 || limits.Process.MaxThreads < 0 {
			return errors.NewValidationError("process limits cannot be negative", nil)
		}
	}
	return nil
}

func validateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 100 {
		return errors.NewValidationError("warning threshold must be between 0 and 100", nil).
			WithContext("threshold", threshold)
	}
	return nil
}
