package resourcelimits

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-master/pkg/errors"
)

// UsageSampler reads process usage and derives CPU percentage from the
// previous sample of the same PID
type UsageSampler struct {
	mu   sync.Mutex
	last map[int]*ResourceUsage
	read func(pid int) (*ResourceUsage, error)
	now  func() time.Time
}

func NewUsageSampler() *UsageSampler {
	return &UsageSampler{
		last: make(map[int]*ResourceUsage),
		read: readProcessUsage,
		now:  time.Now,
	}
}

func (s *UsageSampler) Sample(pid int) (*ResourceUsage, error) {
	if pid <= 0 {
		return nil, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	usage, err := s.read(pid)
	if err != nil {
		return nil, err
	}
	usage.Timestamp = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.last[pid]; ok {
		elapsed := usage.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed > 0 && usage.CPUTime >= prev.CPUTime {
			usage.CPUPercent = (usage.CPUTime - prev.CPUTime) / elapsed * 100.0
		}
	}
	s.last[pid] = usage
	return usage, nil
}

// Forget drops the stored sample for pid, e.g. after the process exits
func (s *UsageSampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.last, pid)
	s.mu.Unlock()
}
