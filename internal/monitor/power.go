package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const (
	DefaultPowerInterval       = 30 * time.Second
	DefaultBatteryLowThreshold = 20.0
)

// Power source names reported in PowerSample.Source.
const (
	PowerSourceAC      = "ac"
	PowerSourceBattery = "battery"
	PowerSourceUnknown = "unknown"
)

// ErrPowerUnavailable is returned by a PowerSource on hosts that expose no
// battery or mains information.
var ErrPowerUnavailable = errors.New("power status unavailable on this host")

type PowerConfig struct {
	Interval time.Duration `yaml:"interval" toml:"interval" json:"interval"`
	// BatteryLowThreshold is a percentage; BatteryLow fires when the level
	// drops to it while discharging. Zero disables the check.
	BatteryLowThreshold float64 `yaml:"battery_low_threshold" toml:"battery_low_threshold" json:"battery_low_threshold"`
}

func DefaultPowerConfig() PowerConfig {
	return PowerConfig{
		Interval:            DefaultPowerInterval,
		BatteryLowThreshold: DefaultBatteryLowThreshold,
	}
}

func (c PowerConfig) withDefaults() PowerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPowerInterval
	}
	return c
}

// PowerSample is one reading of the host power state. BatteryLevel and
// Charging are nil on hosts without a battery.
type PowerSample struct {
	BatteryLevel *float64
	Charging     *bool
	Source       string
}

type PowerSource interface {
	Sample(ctx context.Context) (PowerSample, error)
}

// PowerMonitor publishes battery and power source transitions.
type PowerMonitor struct {
	base
	config   PowerConfig
	source   PowerSource
	previous *PowerSample
	edges    edge
}

// NewPowerMonitor builds a monitor. A nil source reads the host.
func NewPowerMonitor(config PowerConfig, source PowerSource, options Options) *PowerMonitor {
	if source == nil {
		source = newHostPowerSource()
	}
	return &PowerMonitor{
		base:   newBase(SourcePower, options),
		config: config.withDefaults(),
		source: source,
		edges:  make(edge),
	}
}

// Serve polls until ctx is done. On a host without power information it
// logs once and asks its supervisor not to restart it.
func (m *PowerMonitor) Serve(ctx context.Context) error {
	if _, err := m.source.Sample(ctx); errors.Is(err, ErrPowerUnavailable) {
		m.logger.Info("power monitor disabled", logging.ErrorFields(err, nil))
		return suture.ErrDoNotRestart
	}
	return m.run(ctx, m.config.Interval, m.poll)
}

func (m *PowerMonitor) poll(ctx context.Context, now time.Time) error {
	sample, err := m.source.Sample(ctx)
	if err != nil {
		return err
	}
	if sample.Source == "" {
		sample.Source = PowerSourceUnknown
	}
	if sample.BatteryLevel != nil {
		discharging := sample.Charging == nil || !*sample.Charging
		low := discharging && m.config.BatteryLowThreshold > 0 && *sample.BatteryLevel <= m.config.BatteryLowThreshold
		if m.edges.enter(string(event.PowerBatteryLow), low) {
			m.publish(m.powerEvent(event.PowerBatteryLow, sample, now))
		}
	}

	previous := m.previous
	m.previous = &sample
	if previous == nil {
		return nil
	}
	if sample.Charging != nil && previous.Charging != nil && *sample.Charging != *previous.Charging {
		kind := event.PowerBatteryDischarging
		if *sample.Charging {
			kind = event.PowerBatteryCharging
		}
		m.publish(m.powerEvent(kind, sample, now))
	}
	if sample.Source != previous.Source {
		m.publish(m.powerEvent(event.PowerSourceChanged, sample, now))
	}
	return nil
}

func (m *PowerMonitor) powerEvent(kind event.PowerKind, sample PowerSample, now time.Time) event.PowerEvent {
	data := event.PowerEvent{Kind: kind, PowerSource: sample.Source, OccurredAt: now}
	if sample.BatteryLevel != nil {
		data.BatteryLevel = float64Ptr(*sample.BatteryLevel)
	}
	if sample.Charging != nil {
		charging := *sample.Charging
		data.IsCharging = &charging
	}
	return data
}
