package monitor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
)

const (
	DefaultProcessInterval        = time.Second
	DefaultProcessCPUThreshold    = 80.0
	DefaultProcessMemoryThreshold = uint64(1 << 30)
)

type ProcessConfig struct {
	Interval        time.Duration `yaml:"interval" toml:"interval" json:"interval"`
	CPUThreshold    float64       `yaml:"cpu_threshold" toml:"cpu_threshold" json:"cpu_threshold"`
	MemoryThreshold uint64        `yaml:"memory_threshold" toml:"memory_threshold" json:"memory_threshold"`
	// NameFilters limits monitoring to processes whose name contains one of
	// the entries, case-insensitively. Empty monitors every process.
	NameFilters []string `yaml:"name_filters" toml:"name_filters" json:"name_filters"`
}

func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Interval:        DefaultProcessInterval,
		CPUThreshold:    DefaultProcessCPUThreshold,
		MemoryThreshold: DefaultProcessMemoryThreshold,
	}
}

func (c ProcessConfig) withDefaults() ProcessConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultProcessInterval
	}
	return c
}

// ProcessSample is one process as seen by a single poll.
type ProcessSample struct {
	PID         int32
	Name        string
	CPUPercent  float64
	MemoryBytes uint64
	Status      string
}

type ProcessSource interface {
	Processes(ctx context.Context) ([]ProcessSample, error)
}

// ProcessMonitor publishes process lifecycle and threshold events.
type ProcessMonitor struct {
	base
	config  ProcessConfig
	source  ProcessSource
	filters []string

	primed bool
	known  map[int32]ProcessSample
	cpu    edge
	memory edge
}

// NewProcessMonitor builds a monitor. A nil source samples the host.
func NewProcessMonitor(config ProcessConfig, source ProcessSource, options Options) *ProcessMonitor {
	if source == nil {
		source = newHostProcessSource()
	}
	filters := make([]string, 0, len(config.NameFilters))
	for _, filter := range config.NameFilters {
		if trimmed := strings.ToLower(strings.TrimSpace(filter)); trimmed != "" {
			filters = append(filters, trimmed)
		}
	}
	return &ProcessMonitor{
		base:    newBase(SourceProcess, options),
		config:  config.withDefaults(),
		source:  source,
		filters: filters,
		known:   make(map[int32]ProcessSample),
		cpu:     make(edge),
		memory:  make(edge),
	}
}

func (m *ProcessMonitor) Serve(ctx context.Context) error {
	return m.run(ctx, m.config.Interval, m.poll)
}

// poll diffs a fresh sample against the previous one. The first sample only
// records the baseline.
func (m *ProcessMonitor) poll(ctx context.Context, now time.Time) error {
	samples, err := m.source.Processes(ctx)
	if err != nil {
		return err
	}
	current := make(map[int32]ProcessSample, len(samples))
	for _, sample := range samples {
		if m.matches(sample.Name) {
			current[sample.PID] = sample
		}
	}

	if m.primed {
		for pid, sample := range current {
			previous, seen := m.known[pid]
			if !seen {
				m.publishProcess(event.ProcessStarted, sample, now)
			} else if previous.Status != "" && sample.Status != "" && previous.Status != sample.Status {
				m.publishProcess(event.ProcessStatusChanged, sample, now)
			}
		}
		for pid, sample := range m.known {
			if _, alive := current[pid]; !alive {
				m.publishProcess(event.ProcessTerminated, sample, now)
				key := strconv.FormatInt(int64(pid), 10)
				delete(m.cpu, key)
				delete(m.memory, key)
			}
		}
	}
	for pid, sample := range current {
		key := strconv.FormatInt(int64(pid), 10)
		if m.cpu.rise(key, sample.CPUPercent, m.config.CPUThreshold) {
			m.publishProcess(event.ProcessCPUUsageHigh, sample, now)
		}
		if m.memory.rise(key, float64(sample.MemoryBytes), float64(m.config.MemoryThreshold)) {
			m.publishProcess(event.ProcessMemoryUsageHigh, sample, now)
		}
	}

	if !m.primed {
		m.logger.Debug("process baseline recorded", logging.Fields{"processes": strconv.Itoa(len(current))})
	}
	m.known = current
	m.primed = true
	return nil
}

func (m *ProcessMonitor) matches(name string) bool {
	if len(m.filters) == 0 {
		return true
	}
	lowered := strings.ToLower(name)
	for _, filter := range m.filters {
		if strings.Contains(lowered, filter) {
			return true
		}
	}
	return false
}

func (m *ProcessMonitor) publishProcess(kind event.ProcessKind, sample ProcessSample, now time.Time) {
	data := event.ProcessEvent{
		Kind:       kind,
		PID:        sample.PID,
		Name:       sample.Name,
		Status:     sample.Status,
		OccurredAt: now,
	}
	switch kind {
	case event.ProcessCPUUsageHigh:
		data.CPUUsage = float64Ptr(sample.CPUPercent)
	case event.ProcessMemoryUsageHigh:
		data.MemoryUsage = uint64Ptr(sample.MemoryBytes)
	}
	m.publish(data)
}
