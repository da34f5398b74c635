package event

import (
	"fmt"
	"time"
)

type ProcessKind string

const (
	ProcessStarted         ProcessKind = "started"
	ProcessTerminated      ProcessKind = "terminated"
	ProcessCPUUsageHigh    ProcessKind = "cpu_usage_high"
	ProcessMemoryUsageHigh ProcessKind = "memory_usage_high"
	ProcessStatusChanged   ProcessKind = "status_changed"
)

// ProcessEvent reports a process lifecycle change or threshold crossing.
// CPUUsage is a percentage, MemoryUsage is resident bytes.
type ProcessEvent struct {
	Kind        ProcessKind
	PID         int32
	Name        string
	CPUUsage    *float64
	MemoryUsage *uint64
	Status      string
	OccurredAt  time.Time
}

func NewProcessEvent(kind ProcessKind, pid int32, name string) ProcessEvent {
	return ProcessEvent{
		Kind:       kind,
		PID:        pid,
		Name:       name,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ProcessEvent) Domain() Domain { return DomainProcess }
func (e ProcessEvent) Type() string { return "process." + string(e.Kind) }
func (e ProcessEvent) Timestamp() time.Time { return e.OccurredAt }

func (e ProcessEvent) String() string {
	switch e.Kind {
	case ProcessCPUUsageHigh:
		if e.CPUUsage != nil {
			return fmt.Sprintf("Process %s (%d) CPU usage high: %.1f%%", e.Name, e.PID, *e.CPUUsage)
		}
	case ProcessMemoryUsageHigh:
		if e.MemoryUsage != nil {
			return fmt.Sprintf("Process %s (%d) memory usage high: %d bytes", e.Name, e.PID, *e.MemoryUsage)
		}
	case ProcessStatusChanged:
		return fmt.Sprintf("Process %s (%d) status changed to %s", e.Name, e.PID, e.Status)
	}
	return fmt.Sprintf("Process %s (%d) %s", e.Name, e.PID, e.Kind)
}

type NetworkKind string

const (
	NetworkInterfaceUp             NetworkKind = "interface_up"
	NetworkInterfaceDown           NetworkKind = "interface_down"
	NetworkConnectionEstablished   NetworkKind = "connection_established"
	NetworkConnectionLost          NetworkKind = "connection_lost"
	NetworkTrafficThresholdReached NetworkKind = "traffic_threshold_reached"
)

type NetworkEvent struct {
	Kind          NetworkKind
	Interface     string
	LocalAddr     string
	RemoteAddr    string
	BytesSent     *uint64
	BytesReceived *uint64
	OccurredAt    time.Time
}

func NewNetworkEvent(kind NetworkKind, iface string) NetworkEvent {
	return NetworkEvent{
		Kind:       kind,
		Interface:  iface,
		OccurredAt: time.Now().UTC(),
	}
}

func (e NetworkEvent) Domain() Domain { return DomainNetwork }
func (e NetworkEvent) Type() string { return "network." + string(e.Kind) }
func (e NetworkEvent) Timestamp() time.Time { return e.OccurredAt }

func (e NetworkEvent) String() string {
	if e.Interface != "" {
		return fmt.Sprintf("Network %s on %s", e.Kind, e.Interface)
	}
	return fmt.Sprintf("Network %s %s -> %s", e.Kind, e.LocalAddr, e.RemoteAddr)
}

type SystemKind string

const (
	SystemCPUUsageHigh    SystemKind = "cpu_usage_high"
	SystemMemoryUsageHigh SystemKind = "memory_usage_high"
	SystemDiskSpaceLow    SystemKind = "disk_space_low"
	SystemTemperatureHigh SystemKind = "temperature_high"
	SystemLoadAverageHigh SystemKind = "load_average_high"
)

// SystemEvent reports a host-wide threshold crossing. Usage values are
// percentages, Temperature is Celsius.
type SystemEvent struct {
	Kind        SystemKind
	CPUUsage    *float64
	MemoryUsage *float64
	DiskUsage   *float64
	Temperature *float64
	LoadAverage *float64
	OccurredAt  time.Time
}

func NewSystemEvent(kind SystemKind) SystemEvent {
	return SystemEvent{
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

func (e SystemEvent) Domain() Domain { return DomainSystem }
func (e SystemEvent) Type() string { return "system." + string(e.Kind) }
func (e SystemEvent) Timestamp() time.Time { return e.OccurredAt }

// Value returns the measurement that triggered the event.
func (e SystemEvent) Value() (float64, bool) {
	var value *float64
	switch e.Kind {
	case SystemCPUUsageHigh:
		value = e.CPUUsage
	case SystemMemoryUsageHigh:
		value = e.MemoryUsage
	case SystemDiskSpaceLow:
		value = e.DiskUsage
	case SystemTemperatureHigh:
		value = e.Temperature
	case SystemLoadAverageHigh:
		value = e.LoadAverage
	}
	if value == nil {
		return 0, false
	}
	return *value, true
}

func (e SystemEvent) String() string {
	if value, ok := e.Value(); ok {
		return fmt.Sprintf("System %s: %.2f", e.Kind, value)
	}
	return fmt.Sprintf("System %s", e.Kind)
}

type PowerKind string

const (
	PowerBatteryLow         PowerKind = "battery_low"
	PowerBatteryCharging    PowerKind = "battery_charging"
	PowerBatteryDischarging PowerKind = "battery_discharging"
	PowerSourceChanged      PowerKind = "power_source_changed"
	PowerSleepMode          PowerKind = "sleep_mode"
	PowerWakeFromSleep      PowerKind = "wake_from_sleep"
	PowerShutdown           PowerKind = "shutdown"
	PowerRestart            PowerKind = "restart"
)

// PowerEvent reports a power state change. BatteryLevel is a percentage.
type PowerEvent struct {
	Kind         PowerKind
	BatteryLevel *float64
	IsCharging   *bool
	PowerSource  string
	OccurredAt   time.Time
}

func NewPowerEvent(kind PowerKind) PowerEvent {
	return PowerEvent{
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

func (e PowerEvent) Domain() Domain { return DomainPower }
func (e PowerEvent) Type() string { return "power." + string(e.Kind) }
func (e PowerEvent) Timestamp() time.Time { return e.OccurredAt }

func (e PowerEvent) String() string {
	if e.BatteryLevel != nil {
		return fmt.Sprintf("Power %s (battery %.0f%%)", e.Kind, *e.BatteryLevel)
	}
	return fmt.Sprintf("Power %s", e.Kind)
}
