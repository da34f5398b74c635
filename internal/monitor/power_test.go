package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"tellmewhen/internal/event"
)

type stubPowerSource struct {
	mutex   sync.Mutex
	samples []PowerSample
	err     error
}

func (s *stubPowerSource) Sample(context.Context) (PowerSample, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return PowerSample{}, s.err
	}
	sample := s.samples[0]
	if len(s.samples) > 1 {
		s.samples = s.samples[1:]
	}
	return sample, nil
}

func battery(level float64, charging bool, source string) PowerSample {
	return PowerSample{BatteryLevel: float64Ptr(level), Charging: &charging, Source: source}
}

func TestEdgeEnter(t *testing.T) {
	edges := make(edge)
	assert.True(t, edges.enter("low", true))
	assert.False(t, edges.enter("low", true))
	assert.False(t, edges.enter("low", false))
	assert.True(t, edges.enter("low", true))
}

func TestPowerMonitorTransitions(t *testing.T) {
	rec := newRecorder(t, SourcePower)
	source := &stubPowerSource{samples: []PowerSample{
		battery(80, true, PowerSourceAC),
		battery(79, false, PowerSourceBattery),
		battery(20, false, PowerSourceBattery),
		battery(15, false, PowerSourceBattery),
		battery(16, true, PowerSourceAC),
	}}
	monitor := NewPowerMonitor(DefaultPowerConfig(), source, rec.options)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, monitor.poll(context.Background(), now.Add(time.Duration(i)*time.Second)))
	}

	messages := rec.settle(t, 5)
	assert.Equal(t, []string{
		"power.battery_discharging",
		"power.power_source_changed",
		"power.battery_low",
		"power.battery_charging",
		"power.power_source_changed",
	}, kindsOf(messages))

	low := messages[2].Data.(event.PowerEvent)
	require.NotNil(t, low.BatteryLevel)
	assert.Equal(t, 20.0, *low.BatteryLevel)
	require.NotNil(t, low.IsCharging)
	assert.False(t, *low.IsCharging)
	assert.Equal(t, PowerSourceAC, messages[4].Data.(event.PowerEvent).PowerSource)
}

func TestPowerMonitorBatteryLowWaitsForRecovery(t *testing.T) {
	rec := newRecorder(t, SourcePower)
	source := &stubPowerSource{samples: []PowerSample{
		battery(10, false, PowerSourceBattery),
		battery(9, false, PowerSourceBattery),
		battery(50, false, PowerSourceBattery),
		battery(12, false, PowerSourceBattery),
	}}
	monitor := NewPowerMonitor(DefaultPowerConfig(), source, rec.options)

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		require.NoError(t, monitor.poll(context.Background(), now.Add(time.Duration(i)*time.Second)))
	}

	messages := rec.settle(t, 2)
	assert.Equal(t, []string{"power.battery_low", "power.battery_low"}, kindsOf(messages))
}

func TestPowerMonitorWithoutBatteryReportsSourceOnly(t *testing.T) {
	rec := newRecorder(t, SourcePower)
	source := &stubPowerSource{samples: []PowerSample{
		{Source: PowerSourceAC},
		{Source: PowerSourceUnknown},
	}}
	monitor := NewPowerMonitor(DefaultPowerConfig(), source, rec.options)

	now := time.Now().UTC()
	require.NoError(t, monitor.poll(context.Background(), now))
	require.NoError(t, monitor.poll(context.Background(), now.Add(time.Second)))

	messages := rec.settle(t, 1)
	assert.Equal(t, []string{"power.power_source_changed"}, kindsOf(messages))
	assert.Nil(t, messages[0].Data.(event.PowerEvent).BatteryLevel)
}

func TestPowerMonitorUnavailableIsNotRestarted(t *testing.T) {
	rec := newRecorder(t, SourcePower)
	monitor := NewPowerMonitor(DefaultPowerConfig(), &stubPowerSource{err: ErrPowerUnavailable}, rec.options)

	err := monitor.Serve(context.Background())
	assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.Equal(t, "monitor.power", monitor.String())
}

func writeSupply(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content+"\n"), 0o644))
	}
}

func TestSysfsPowerSource(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "0"})
	writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "40", "status": "Discharging"})
	writeSupply(t, root, "BAT1", map[string]string{"type": "Battery", "capacity": "60", "status": "Charging"})
	writeSupply(t, root, "hidpp_battery_0", map[string]string{"type": "Battery", "scope": "Device", "capacity": "5"})

	sample, err := sysfsPowerSource{root: root}.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PowerSourceBattery, sample.Source)
	require.NotNil(t, sample.BatteryLevel)
	assert.Equal(t, 50.0, *sample.BatteryLevel)
	require.NotNil(t, sample.Charging)
	assert.True(t, *sample.Charging)

	writeSupply(t, root, "AC", map[string]string{"online": "1"})
	sample, err = sysfsPowerSource{root: root}.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PowerSourceAC, sample.Source)
}

func TestSysfsPowerSourceUnavailable(t *testing.T) {
	_, err := sysfsPowerSource{root: filepath.Join(t.TempDir(), "missing")}.Sample(context.Background())
	assert.ErrorIs(t, err, ErrPowerUnavailable)

	empty := t.TempDir()
	writeSupply(t, empty, "hidpp_battery_0", map[string]string{"type": "Battery", "scope": "Device", "capacity": "5"})
	_, err = sysfsPowerSource{root: empty}.Sample(context.Background())
	assert.ErrorIs(t, err, ErrPowerUnavailable)
}
