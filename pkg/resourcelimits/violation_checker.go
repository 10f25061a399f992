package resourcelimits

import (
	"fmt"
	"time"
)

// CheckViolations compares one usage sample against limits
func CheckViolations(usage *ResourceUsage, limits *ResourceLimits) []*ResourceViolation {
	if usage == nil || limits.IsZero() {
		return nil
	}

	c := &usageViolationsChecker{timestamp: usage.Timestamp, usage: usage}
	if c.timestamp.IsZero() {
		c.timestamp = time.Now()
	}

	if limits.Memory != nil {
		c.checkMemory(limits.Memory)
	}
	if limits.CPU != nil {
		c.checkCPU(limits.CPU)
	}
	if limits.Process != nil {
		c.checkProcess(limits.Process)
	}
	return c.violations
}

type usageViolationsChecker struct {
	timestamp  time.Time
	usage      *ResourceUsage
	violations []*ResourceViolation
}

func (c *usageViolationsChecker) add(limitType ResourceLimitType, severity ViolationSeverity, current, limit interface{}, format string, args ...interface{}) {
	c.violations = append(c.violations, &ResourceViolation{
		LimitType:    limitType,
		CurrentValue: current,
		LimitValue:   limit,
		Severity:     severity,
		Timestamp:    c.timestamp,
		Message:      fmt.Sprintf(format, args...),
	})
}

func (c *usageViolationsChecker) checkMemory(limits *MemoryLimits) {
	rss := c.usage.MemoryRSS
	switch {
	case limits.MaxRSS > 0 && rss > limits.MaxRSS:
		c.add(ResourceLimitTypeMemory, ViolationSeverityCritical, rss, limits.MaxRSS,
			"Memory RSS (%d bytes) exceeds limit (%d bytes)", rss, limits.MaxRSS)
	case limits.MaxRSS > 0 && limits.WarningThreshold > 0:
		warning := float64(limits.MaxRSS) * limits.WarningThreshold / 100.0
		if float64(rss) > warning {
			c.add(ResourceLimitTypeMemory, ViolationSeverityWarning, rss, int64(warning),
				"Memory RSS (%d bytes) exceeds warning threshold (%.0f bytes)", rss, warning)
		}
	}

	if limits.MaxVirtual > 0 && c.usage.MemoryVirtual > limits.MaxVirtual {
		c.add(ResourceLimitTypeMemory, ViolationSeverityCritical, c.usage.MemoryVirtual, limits.MaxVirtual,
			"Virtual memory (%d bytes) exceeds limit (%d bytes)", c.usage.MemoryVirtual, limits.MaxVirtual)
	}
}

func (c *usageViolationsChecker) checkCPU(limits *CPULimits) {
	cpu := c.usage.CPUPercent
	switch {
	case limits.MaxPercent > 0 && cpu > limits.MaxPercent:
		c.add(ResourceLimitTypeCPU, ViolationSeverityCritical, cpu, limits.MaxPercent,
			"CPU usage (%.1f%%) exceeds limit (%.1f%%)", cpu, limits.MaxPercent)
	case limits.MaxPercent > 0 && limits.WarningThreshold > 0:
		warning := limits.MaxPercent * limits.WarningThreshold / 100.0
		if cpu > warning {
			c.add(ResourceLimitTypeCPU, ViolationSeverityWarning, cpu, warning,
				"CPU usage (%.1f%%) exceeds warning threshold (%.1f%%)", cpu, warning)
		}
	}

	cpuTime := time.Duration(c.usage.CPUTime * float64(time.Second))
	if limits.MaxTime > 0 && cpuTime > limits.MaxTime {
		c.add(ResourceLimitTypeCPU, ViolationSeverityCritical, c.usage.CPUTime, limits.MaxTime.Seconds(),
			"CPU time (%.1fs) exceeds limit (%v)", c.usage.CPUTime, limits.MaxTime)
	}
}

func (c *usageViolationsChecker) checkProcess(limits *ProcessLimits) {
	if limits.MaxFileDescriptors > 0 && c.usage.OpenFileDescriptors > limits.MaxFileDescriptors {
		c.add(ResourceLimitTypeProcess, ViolationSeverityCritical, c.usage.OpenFileDescriptors, limits.MaxFileDescriptors,
			"Open file descriptors (%d) exceeds limit (%d)", c.usage.OpenFileDescriptors, limits.MaxFileDescriptors)
	}
	if limits.MaxThreads > 0 && c.usage.Threads > limits.MaxThreads {
		c.add(ResourceLimitTypeProcess, ViolationSeverityCritical, c.usage.Threads, limits.MaxThreads,
			"Threads (%d) exceeds limit (%d)", c.usage.Threads, limits.MaxThreads)
	}
}
