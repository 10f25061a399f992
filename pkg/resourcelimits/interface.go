package resourcelimits

import "time"

// Limits are advisory: violations are reported, never enforced by the master.

type ResourceLimitType string

const (
	ResourceLimitTypeMemory  ResourceLimitType = "memory"
	ResourceLimitTypeCPU     ResourceLimitType = "cpu"
	ResourceLimitTypeProcess ResourceLimitType = "process"
)

type ResourceLimits struct {
	Memory  *MemoryLimits  `yaml:"memory,omitempty"`
	CPU     *CPULimits     `yaml:"cpu,omitempty"`
	Process *ProcessLimits `yaml:"process,omitempty"`
}

// IsZero reports whether no limit is configured
func (l *ResourceLimits) IsZero() bool {
	return l == nil || (l.Memory == nil && l.CPU == nil && l.Process == nil)
}

type MemoryLimits struct {
	MaxRSS     int64 `yaml:"max_rss,omitempty"`     // bytes
	MaxVirtual int64 `yaml:"max_virtual,omitempty"` // bytes

	// Percentage of MaxRSS at which a warning is reported (0-100)
	WarningThreshold float64 `yaml:"warning_threshold,omitempty"`
}

type CPULimits struct {
	MaxPercent float64       `yaml:"max_percent,omitempty"`
	MaxTime    time.Duration `yaml:"max_time,omitempty"`

	WarningThreshold float64 `yaml:"warning_threshold,omitempty"`
}

type ProcessLimits struct {
	MaxFileDescriptors int `yaml:"max_file_descriptors,omitempty"`
	MaxThreads         int `yaml:"max_threads,omitempty"`
}

// ResourceUsage is one sample of a process's consumption
type ResourceUsage struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryRSS     int64 `json:"memory_rss"`
	MemoryVirtual int64 `json:"memory_virtual"`

	CPUTime    float64 `json:"cpu_time"`    // seconds, user+system
	CPUPercent float64 `json:"cpu_percent"` // since previous sample of the same PID

	OpenFileDescriptors int `json:"open_file_descriptors"`
	Threads             int `json:"threads"`
}

type ViolationSeverity string

const (
	ViolationSeverityWarning  ViolationSeverity = "warning"
	ViolationSeverityCritical ViolationSeverity = "critical"
)

type ResourceViolation struct {
	LimitType    ResourceLimitType `json:"limit_type"`
	CurrentValue interface{}       `json:"current_value"`
	LimitValue   interface{}       `json:"limit_value"`
	Severity     ViolationSeverity `json:"severity"`
	Timestamp    time.Time         `json:"timestamp"`
	Message      string            `json:"message"`
}
