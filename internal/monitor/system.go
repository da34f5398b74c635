package monitor

import (
	"context"
	"time"

	"tellmewhen/internal/event"
)

const (
	DefaultSystemInterval       = 5 * time.Second
	DefaultCPUThreshold         = 80.0
	DefaultMemoryThreshold      = 85.0
	DefaultDiskThreshold        = 90.0
	DefaultTemperatureThreshold = 75.0
	DefaultLoadThreshold        = 5.0
)

type SystemConfig struct {
	Interval             time.Duration `yaml:"interval" toml:"interval" json:"interval"`
	CPUThreshold         float64       `yaml:"cpu_threshold" toml:"cpu_threshold" json:"cpu_threshold"`
	MemoryThreshold      float64       `yaml:"memory_threshold" toml:"memory_threshold" json:"memory_threshold"`
	DiskThreshold        float64       `yaml:"disk_threshold" toml:"disk_threshold" json:"disk_threshold"`
	TemperatureThreshold float64       `yaml:"temperature_threshold" toml:"temperature_threshold" json:"temperature_threshold"`
	LoadThreshold        float64       `yaml:"load_threshold" toml:"load_threshold" json:"load_threshold"`
	// DiskPath is the mount point whose usage is sampled.
	DiskPath string `yaml:"disk_path" toml:"disk_path" json:"disk_path"`
}

func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Interval:             DefaultSystemInterval,
		CPUThreshold:         DefaultCPUThreshold,
		MemoryThreshold:      DefaultMemoryThreshold,
		DiskThreshold:        DefaultDiskThreshold,
		TemperatureThreshold: DefaultTemperatureThreshold,
		LoadThreshold:        DefaultLoadThreshold,
		DiskPath:             "/",
	}
}

func (c SystemConfig) withDefaults() SystemConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSystemInterval
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	return c
}

// SystemSample holds host-wide measurements. A nil field was not available
// on this host.
type SystemSample struct {
	CPUPercent    *float64
	MemoryPercent *float64
	DiskPercent   *float64
	Temperature   *float64
	Load1         *float64
}

type SystemSource interface {
	Sample(ctx context.Context, diskPath string) (SystemSample, error)
}

// SystemMonitor publishes host threshold crossings.
type SystemMonitor struct {
	base
	config SystemConfig
	source SystemSource
	edges  edge
}

// NewSystemMonitor builds a monitor. A nil source samples the host.
func NewSystemMonitor(config SystemConfig, source SystemSource, options Options) *SystemMonitor {
	if source == nil {
		source = hostSystemSource{}
	}
	return &SystemMonitor{
		base:   newBase(SourceSystem, options),
		config: config.withDefaults(),
		source: source,
		edges:  make(edge),
	}
}

func (m *SystemMonitor) Serve(ctx context.Context) error {
	return m.run(ctx, m.config.Interval, m.poll)
}

func (m *SystemMonitor) poll(ctx context.Context, now time.Time) error {
	sample, err := m.source.Sample(ctx, m.config.DiskPath)
	if err != nil {
		return err
	}
	checks := []struct {
		kind      event.SystemKind
		value     *float64
		threshold float64
		set       func(*event.SystemEvent, *float64)
	}{
		{event.SystemCPUUsageHigh, sample.CPUPercent, m.config.CPUThreshold, func(e *event.SystemEvent, v *float64) { e.CPUUsage = v }},
		{event.SystemMemoryUsageHigh, sample.MemoryPercent, m.config.MemoryThreshold, func(e *event.SystemEvent, v *float64) { e.MemoryUsage = v }},
		{event.SystemDiskSpaceLow, sample.DiskPercent, m.config.DiskThreshold, func(e *event.SystemEvent, v *float64) { e.DiskUsage = v }},
		{event.SystemTemperatureHigh, sample.Temperature, m.config.TemperatureThreshold, func(e *event.SystemEvent, v *float64) { e.Temperature = v }},
		{event.SystemLoadAverageHigh, sample.Load1, m.config.LoadThreshold, func(e *event.SystemEvent, v *float64) { e.LoadAverage = v }},
	}
	for _, check := range checks {
		if check.value == nil {
			continue
		}
		if !m.edges.rise(string(check.kind), *check.value, check.threshold) {
			continue
		}
		data := event.SystemEvent{Kind: check.kind, OccurredAt: now}
		check.set(&data, float64Ptr(*check.value))
		m.publish(data)
	}
	return nil
}
