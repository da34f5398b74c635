package monitor

import (
	"context"
	"time"

	"tellmewhen/internal/event"
)

const (
	DefaultNetworkInterval  = 2 * time.Second
	DefaultTrafficThreshold = 10 * 1024 * 1024
)

type NetworkConfig struct {
	Interval time.Duration `yaml:"interval" toml:"interval" json:"interval"`
	// TrafficThreshold is bytes per second, sent plus received, per interface.
	TrafficThreshold uint64 `yaml:"traffic_threshold" toml:"traffic_threshold" json:"traffic_threshold"`
	// TrackConnections diffs established TCP connections on every poll.
	TrackConnections bool `yaml:"track_connections" toml:"track_connections" json:"track_connections"`
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Interval:         DefaultNetworkInterval,
		TrafficThreshold: DefaultTrafficThreshold,
	}
}

func (c NetworkConfig) withDefaults() NetworkConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultNetworkInterval
	}
	return c
}

type InterfaceSample struct {
	Name          string
	Up            bool
	BytesSent     uint64
	BytesReceived uint64
}

type ConnectionSample struct {
	LocalAddr  string
	RemoteAddr string
}

type NetworkSource interface {
	Interfaces(ctx context.Context) ([]InterfaceSample, error)
	Connections(ctx context.Context) ([]ConnectionSample, error)
}

// NetworkMonitor publishes interface state, traffic and connection changes.
type NetworkMonitor struct {
	base
	config NetworkConfig
	source NetworkSource

	primed      bool
	lastPoll    time.Time
	interfaces  map[string]InterfaceSample
	connections map[ConnectionSample]struct{}
	traffic     edge
}

// NewNetworkMonitor builds a monitor. A nil source samples the host.
func NewNetworkMonitor(config NetworkConfig, source NetworkSource, options Options) *NetworkMonitor {
	if source == nil {
		source = hostNetworkSource{}
	}
	return &NetworkMonitor{
		base:        newBase(SourceNetwork, options),
		config:      config.withDefaults(),
		source:      source,
		interfaces:  make(map[string]InterfaceSample),
		connections: make(map[ConnectionSample]struct{}),
		traffic:     make(edge),
	}
}

func (m *NetworkMonitor) Serve(ctx context.Context) error {
	return m.run(ctx, m.config.Interval, m.poll)
}

func (m *NetworkMonitor) poll(ctx context.Context, now time.Time) error {
	samples, err := m.source.Interfaces(ctx)
	if err != nil {
		return err
	}
	var connections map[ConnectionSample]struct{}
	if m.config.TrackConnections {
		list, err := m.source.Connections(ctx)
		if err != nil {
			return err
		}
		connections = make(map[ConnectionSample]struct{}, len(list))
		for _, connection := range list {
			connections[connection] = struct{}{}
		}
	}

	current := make(map[string]InterfaceSample, len(samples))
	for _, sample := range samples {
		current[sample.Name] = sample
	}
	if m.primed {
		elapsed := now.Sub(m.lastPoll).Seconds()
		for name, sample := range current {
			previous, seen := m.interfaces[name]
			switch {
			case !seen && sample.Up, seen && !previous.Up && sample.Up:
				m.publish(event.NetworkEvent{Kind: event.NetworkInterfaceUp, Interface: name, OccurredAt: now})
			case seen && previous.Up && !sample.Up:
				m.publish(event.NetworkEvent{Kind: event.NetworkInterfaceDown, Interface: name, OccurredAt: now})
			}
			if seen && elapsed > 0 {
				m.checkTraffic(previous, sample, elapsed, now)
			}
		}
		for name, previous := range m.interfaces {
			if _, ok := current[name]; !ok && previous.Up {
				m.publish(event.NetworkEvent{Kind: event.NetworkInterfaceDown, Interface: name, OccurredAt: now})
				delete(m.traffic, name)
			}
		}
		if connections != nil {
			m.diffConnections(connections, now)
		}
	}

	m.interfaces = current
	if connections != nil {
		m.connections = connections
	}
	m.lastPoll = now
	m.primed = true
	return nil
}

func (m *NetworkMonitor) checkTraffic(previous, sample InterfaceSample, elapsed float64, now time.Time) {
	sent := counterDelta(previous.BytesSent, sample.BytesSent)
	received := counterDelta(previous.BytesReceived, sample.BytesReceived)
	rate := float64(sent+received) / elapsed
	if !m.traffic.rise(sample.Name, rate, float64(m.config.TrafficThreshold)) {
		return
	}
	m.publish(event.NetworkEvent{
		Kind:          event.NetworkTrafficThresholdReached,
		Interface:     sample.Name,
		BytesSent:     uint64Ptr(sent),
		BytesReceived: uint64Ptr(received),
		OccurredAt:    now,
	})
}

func (m *NetworkMonitor) diffConnections(current map[ConnectionSample]struct{}, now time.Time) {
	for connection := range current {
		if _, ok := m.connections[connection]; !ok {
			m.publish(event.NetworkEvent{
				Kind:       event.NetworkConnectionEstablished,
				LocalAddr:  connection.LocalAddr,
				RemoteAddr: connection.RemoteAddr,
				OccurredAt: now,
			})
		}
	}
	for connection := range m.connections {
		if _, ok := current[connection]; !ok {
			m.publish(event.NetworkEvent{
				Kind:       event.NetworkConnectionLost,
				LocalAddr:  connection.LocalAddr,
				RemoteAddr: connection.RemoteAddr,
				OccurredAt: now,
			})
		}
	}
}

// counterDelta treats a counter that went backwards as reset.
func counterDelta(previous, current uint64) uint64 {
	if current < previous {
		return current
	}
	return current - previous
}
