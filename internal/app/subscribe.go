package app

import (
	"os"
	"path/filepath"
	"strings"

	"tellmewhen/internal/event"
)

// Subscribe receives every message on the bus.
func (s *System) Subscribe(callback func(event.Message)) event.SubscriptionID {
	return s.bus.Subscribe(callback)
}

func (s *System) Unsubscribe(id event.SubscriptionID) bool {
	return s.bus.Unsubscribe(id)
}

// OnFsEvent delivers filesystem events touching path or anything below it.
// An empty path matches every event.
func (s *System) OnFsEvent(path string, callback func(event.FileSystemEvent)) event.SubscriptionID {
	return s.onFs(path, nil, callback)
}

func (s *System) OnFsCreated(path string, callback func(event.FileSystemEvent)) event.SubscriptionID {
	return s.onFs(path, []event.FsKind{event.FsCreated}, callback)
}

func (s *System) OnFsModified(path string, callback func(event.FileSystemEvent)) event.SubscriptionID {
	return s.onFs(path, []event.FsKind{event.FsModified}, callback)
}

func (s *System) OnFsDeleted(path string, callback func(event.FileSystemEvent)) event.SubscriptionID {
	return s.onFs(path, []event.FsKind{event.FsDeleted}, callback)
}

func (s *System) onFs(path string, kinds []event.FsKind, callback func(event.FileSystemEvent)) event.SubscriptionID {
	root := path
	if root != "" {
		if absolute, err := filepath.Abs(root); err == nil {
			root = absolute
		}
	}
	return event.SubscribeDomain(s.bus, func(change event.FileSystemEvent) bool {
		if len(kinds) > 0 && !containsKind(kinds, change.Kind) {
			return false
		}
		if root == "" {
			return true
		}
		for _, touched := range change.Paths() {
			if isUnder(root, touched) {
				return true
			}
		}
		return false
	}, callback)
}

func (s *System) OnProcessEvent(callback func(event.ProcessEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, nil, callback)
}

func (s *System) OnProcessStarted(callback func(event.ProcessEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, func(e event.ProcessEvent) bool {
		return e.Kind == event.ProcessStarted
	}, callback)
}

func (s *System) OnProcessTerminated(callback func(event.ProcessEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, func(e event.ProcessEvent) bool {
		return e.Kind == event.ProcessTerminated
	}, callback)
}

func (s *System) OnSystemEvent(callback func(event.SystemEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, nil, callback)
}

// OnCPUUsageHigh delivers host CPU alerts whose usage is at least threshold.
func (s *System) OnCPUUsageHigh(threshold float64, callback func(event.SystemEvent)) event.SubscriptionID {
	return s.onSystemAbove(event.SystemCPUUsageHigh, threshold, callback)
}

func (s *System) OnMemoryUsageHigh(threshold float64, callback func(event.SystemEvent)) event.SubscriptionID {
	return s.onSystemAbove(event.SystemMemoryUsageHigh, threshold, callback)
}

func (s *System) onSystemAbove(kind event.SystemKind, threshold float64, callback func(event.SystemEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, func(e event.SystemEvent) bool {
		if e.Kind != kind {
			return false
		}
		value, ok := e.Value()
		return ok && value >= threshold
	}, callback)
}

func (s *System) OnNetworkEvent(callback func(event.NetworkEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, nil, callback)
}

func (s *System) OnPowerEvent(callback func(event.PowerEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, nil, callback)
}

// OnBatteryLow delivers battery alerts reporting a level at or below
// threshold.
func (s *System) OnBatteryLow(threshold float64, callback func(event.PowerEvent)) event.SubscriptionID {
	return event.SubscribeDomain(s.bus, func(e event.PowerEvent) bool {
		return e.Kind == event.PowerBatteryLow && e.BatteryLevel != nil && *e.BatteryLevel <= threshold
	}, callback)
}

func containsKind(kinds []event.FsKind, kind event.FsKind) bool {
	for _, candidate := range kinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
