package workers

import (
	"sync"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/resourcelimits"
)

// usageMonitor samples whichever PID currently backs a worker
type usageMonitor struct {
	sampler *resourcelimits.UsageSampler
	limits  resourcelimits.ResourceLimits

	mutex   sync.Mutex
	lastPID int
}

func newUsageMonitor(limits resourcelimits.ResourceLimits) *usageMonitor {
	return &usageMonitor{
		sampler: resourcelimits.NewUsageSampler(),
		limits:  limits,
	}
}

func (m *usageMonitor) sample(pid int) (*resourcelimits.ResourceUsage, []*resourcelimits.ResourceViolation, error) {
	if pid <= 0 {
		return nil, nil, errors.NewProcessError("process is not running", nil)
	}

	m.mutex.Lock()
	if m.lastPID != 0 && m.lastPID != pid {
		m.sampler.Forget(m.lastPID)
	}
	m.lastPID = pid
	m.mutex.Unlock()

	usage, err := m.sampler.Sample(pid)
	if err != nil {
		return nil, nil, err
	}
	return usage, resourcelimits.CheckViolations(usage, &m.limits), nil
}
