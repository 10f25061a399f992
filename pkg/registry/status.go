package registry

type UnitStatus string

const (
	StatusStarting  UnitStatus = "starting"
	StatusRunning   UnitStatus = "running"
	StatusUnhealthy UnitStatus = "unhealthy"
	StatusStopped   UnitStatus = "stopped"
	StatusUnknown   UnitStatus = "unknown" // Unmanaged unit not found by the last discovery pass
)

var allStatuses = []UnitStatus{StatusStarting, StatusRunning, StatusUnhealthy, StatusStopped, StatusUnknown}

func (s UnitStatus) IsValid() bool {
	for _, status := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s UnitStatus) IsTerminal() bool {
	return s == StatusStopped
}

// canTransition reports whether from -> to is allowed; discovery-tracked records may also
// move between unknown and running/unhealthy
func canTransition(from, to UnitStatus, tracksDiscovery bool) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusStarting:
		return to == StatusRunning || to == StatusUnhealthy || to == StatusStopped
	case StatusRunning:
		return to == StatusUnhealthy || to == StatusStopped || (tracksDiscovery && to == StatusUnknown)
	case StatusUnhealthy:
		return to == StatusRunning || to == StatusStopped || (tracksDiscovery && to == StatusUnknown)
	case StatusUnknown:
		return to == StatusRunning || to == StatusUnhealthy || to == StatusStopped
	default:
		return false
	}
}
