package api

import (
	"fmt"
	"time"

	"tellmewhen/internal/event"
)

// messagePayload is the JSON form of a bus message on the event stream.
type messagePayload struct {
	ID          uint64    `json:"id"`
	Source      string    `json:"source"`
	HandlerID   string    `json:"handler_id"`
	PublishedAt time.Time `json:"published_at"`
	Domain      string    `json:"domain"`
	Type        string    `json:"type"`
	Summary     string    `json:"summary,omitempty"`
	Data        any       `json:"data"`
}

type fsPayload struct {
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	IsDir      bool      `json:"is_dir"`
	OccurredAt time.Time `json:"occurred_at"`
}

type processPayload struct {
	Kind        string    `json:"kind"`
	PID         int32     `json:"pid"`
	Name        string    `json:"name"`
	Status      string    `json:"status,omitempty"`
	CPUUsage    *float64  `json:"cpu_usage,omitempty"`
	MemoryUsage *uint64   `json:"memory_usage,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type networkPayload struct {
	Kind          string    `json:"kind"`
	Interface     string    `json:"interface,omitempty"`
	LocalAddr     string    `json:"local_addr,omitempty"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	BytesSent     *uint64   `json:"bytes_sent,omitempty"`
	BytesReceived *uint64   `json:"bytes_received,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type systemPayload struct {
	Kind        string    `json:"kind"`
	CPUUsage    *float64  `json:"cpu_usage,omitempty"`
	MemoryUsage *float64  `json:"memory_usage,omitempty"`
	DiskUsage   *float64  `json:"disk_usage,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	LoadAverage *float64  `json:"load_average,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type powerPayload struct {
	Kind         string    `json:"kind"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
	IsCharging   *bool     `json:"is_charging,omitempty"`
	PowerSource  string    `json:"power_source,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func newMessagePayload(message event.Message) messagePayload {
	payload := messagePayload{
		ID:          message.ID,
		Source:      message.Source,
		HandlerID:   message.HandlerID,
		PublishedAt: message.PublishedAt,
		Domain:      string(message.Domain()),
		Type:        message.Type(),
	}
	if stringer, ok := message.Data.(fmt.Stringer); ok {
		payload.Summary = stringer.String()
	}
	switch data := message.Data.(type) {
	case event.FileSystemEvent:
		payload.Data = fsPayload{
			Kind:       data.Kind.String(),
			Path:       data.Path,
			From:       data.From,
			To:         data.To,
			IsDir:      data.IsDir,
			OccurredAt: data.OccurredAt,
		}
	case event.ProcessEvent:
		payload.Data = processPayload{
			Kind:        string(data.Kind),
			PID:         data.PID,
			Name:        data.Name,
			Status:      data.Status,
			CPUUsage:    data.CPUUsage,
			MemoryUsage: data.MemoryUsage,
			OccurredAt:  data.OccurredAt,
		}
	case event.NetworkEvent:
		payload.Data = networkPayload{
			Kind:          string(data.Kind),
			Interface:     data.Interface,
			LocalAddr:     data.LocalAddr,
			RemoteAddr:    data.RemoteAddr,
			BytesSent:     data.BytesSent,
			BytesReceived: data.BytesReceived,
			OccurredAt:    data.OccurredAt,
		}
	case event.SystemEvent:
		payload.Data = systemPayload{
			Kind:        string(data.Kind),
			CPUUsage:    data.CPUUsage,
			MemoryUsage: data.MemoryUsage,
			DiskUsage:   data.DiskUsage,
			Temperature: data.Temperature,
			LoadAverage: data.LoadAverage,
			OccurredAt:  data.OccurredAt,
		}
	case event.PowerEvent:
		payload.Data = powerPayload{
			Kind:         string(data.Kind),
			BatteryLevel: data.BatteryLevel,
			IsCharging:   data.IsCharging,
			PowerSource:  data.PowerSource,
			OccurredAt:   data.OccurredAt,
		}
	default:
		payload.Data = message.Data
	}
	return payload
}

func parseDomain(name string) (event.Domain, bool) {
	switch name {
	case "fs", string(event.DomainFileSystem):
		return event.DomainFileSystem, true
	case string(event.DomainProcess):
		return event.DomainProcess, true
	case string(event.DomainNetwork):
		return event.DomainNetwork, true
	case string(event.DomainSystem):
		return event.DomainSystem, true
	case string(event.DomainPower):
		return event.DomainPower, true
	default:
		return "", false
	}
}
