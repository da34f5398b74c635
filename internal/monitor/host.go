package monitor

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/shirou/gopsutil/v4/sensors"
)

// hostProcessSource keeps process handles between polls so CPU usage is
// measured over the poll interval rather than the process lifetime.
type hostProcessSource struct {
	mutex     sync.Mutex
	processes map[int32]*process.Process
}

func newHostProcessSource() *hostProcessSource {
	return &hostProcessSource{processes: make(map[int32]*process.Process)}
}

func (s *hostProcessSource) Processes(ctx context.Context) ([]ProcessSample, error) {
	list, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	alive := make(map[int32]*process.Process, len(list))
	samples := make([]ProcessSample, 0, len(list))
	for _, fresh := range list {
		proc, ok := s.processes[fresh.Pid]
		if !ok {
			proc = fresh
		}
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		alive[proc.Pid] = proc
		sample := ProcessSample{PID: proc.Pid, Name: name}
		if percent, err := proc.PercentWithContext(ctx, 0); err == nil {
			sample.CPUPercent = percent
		}
		if memory, err := proc.MemoryInfoWithContext(ctx); err == nil && memory != nil {
			sample.MemoryBytes = memory.RSS
		}
		if status, err := proc.StatusWithContext(ctx); err == nil {
			sample.Status = strings.Join(status, ",")
		}
		samples = append(samples, sample)
	}
	s.processes = alive
	return samples, nil
}

type hostSystemSource struct{}

// Sample collects what the host supports. Only a failure of every reading is
// reported as an error.
func (hostSystemSource) Sample(ctx context.Context, diskPath string) (SystemSample, error) {
	var (
		sample SystemSample
		errs   []error
	)
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = float64Ptr(percents[0])
	} else if err != nil {
		errs = append(errs, err)
	}
	if memory, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.MemoryPercent = float64Ptr(memory.UsedPercent)
	} else {
		errs = append(errs, err)
	}
	if usage, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		sample.DiskPercent = float64Ptr(usage.UsedPercent)
	} else {
		errs = append(errs, err)
	}
	if average, err := load.AvgWithContext(ctx); err == nil {
		sample.Load1 = float64Ptr(average.Load1)
	} else {
		errs = append(errs, err)
	}
	// Sensors often report partial results together with an error.
	if temperatures, _ := sensors.TemperaturesWithContext(ctx); len(temperatures) > 0 {
		highest := temperatures[0].Temperature
		for _, reading := range temperatures[1:] {
			if reading.Temperature > highest {
				highest = reading.Temperature
			}
		}
		sample.Temperature = float64Ptr(highest)
	}
	if len(errs) == 4 {
		return SystemSample{}, errs[0]
	}
	return sample, nil
}

type hostNetworkSource struct{}

func (hostNetworkSource) Interfaces(ctx context.Context) ([]InterfaceSample, error) {
	interfaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	counters, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]gnet.IOCountersStat, len(counters))
	for _, counter := range counters {
		byName[counter.Name] = counter
	}
	samples := make([]InterfaceSample, 0, len(interfaces))
	for _, iface := range interfaces {
		sample := InterfaceSample{Name: iface.Name}
		for _, flag := range iface.Flags {
			if flag == "up" {
				sample.Up = true
				break
			}
		}
		if counter, ok := byName[iface.Name]; ok {
			sample.BytesSent = counter.BytesSent
			sample.BytesReceived = counter.BytesRecv
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (hostNetworkSource) Connections(ctx context.Context) ([]ConnectionSample, error) {
	connections, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	samples := make([]ConnectionSample, 0, len(connections))
	for _, connection := range connections {
		if connection.Status != "ESTABLISHED" {
			continue
		}
		samples = append(samples, ConnectionSample{
			LocalAddr:  net.JoinHostPort(connection.Laddr.IP, strconv.FormatUint(uint64(connection.Laddr.Port), 10)),
			RemoteAddr: net.JoinHostPort(connection.Raddr.IP, strconv.FormatUint(uint64(connection.Raddr.Port), 10)),
		})
	}
	return samples, nil
}
