package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tellmewhen/internal/event"
	"tellmewhen/internal/monitor"
	"tellmewhen/internal/watcher"
)

const yamlConfig = `
version: "0.3.0"
log_level: debug
backend: portable
listen: "127.0.0.1:8787"
watches:
  - path: /srv/data
    watch_subdirectories: false
    ignore_patterns: ["*.log"]
    debounce_window: 120ms
    event_types: [created, deleted, renamed]
  - path: /srv/other
monitors:
  system:
    enabled: true
    interval: 10s
    cpu_threshold: 95
  network:
    enabled: true
    track_connections: true
  power:
    enabled: true
    battery_low_threshold: 15
`

const tomlConfig = `
log_level = "warning"

[[watches]]
path = "/srv/data"
debounce_events = false
retry_on_failure = true
max_retries = 5

[monitors.process]
enabled = true
interval = "3s"
name_filters = ["postgres"]
memory_threshold = 2147483648

[monitors.power]
enabled = true
interval = "1m"
`

func TestParseYAML(t *testing.T) {
	file, err := Parse([]byte(yamlConfig), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "debug", file.LogLevel)
	assert.Equal(t, "portable", file.Backend)
	assert.Equal(t, "127.0.0.1:8787", file.Listen)
	require.Len(t, file.Watches, 2)

	first := file.Watches[0].Config()
	assert.False(t, first.WatchSubdirectories)
	assert.Equal(t, []string{"*.log"}, first.IgnorePatterns)
	assert.True(t, first.DebounceEvents)
	assert.Equal(t, 120*time.Millisecond, first.DebounceWindow)
	assert.Equal(t, []event.FsKind{event.FsCreated, event.FsDeleted, event.FsRenamed}, first.EventTypes)

	assert.Equal(t, watcher.DefaultConfig(), file.Watches[1].Config())

	assert.False(t, file.Monitors.Process.Enabled)
	assert.True(t, file.Monitors.System.Enabled)
	assert.Equal(t, 10*time.Second, file.Monitors.System.Interval)
	assert.Equal(t, 95.0, file.Monitors.System.CPUThreshold)
	assert.Equal(t, monitor.DefaultMemoryThreshold, file.Monitors.System.MemoryThreshold)
	assert.True(t, file.Monitors.Network.TrackConnections)
	assert.Equal(t, monitor.DefaultNetworkInterval, file.Monitors.Network.Interval)
	assert.True(t, file.Monitors.Power.Enabled)
	assert.Equal(t, 15.0, file.Monitors.Power.BatteryLowThreshold)
	assert.Equal(t, monitor.DefaultPowerInterval, file.Monitors.Power.Interval)
}

func TestParseTOML(t *testing.T) {
	file, err := Parse([]byte(tomlConfig), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "warning", file.LogLevel)
	assert.Equal(t, "native", file.Backend)
	require.Len(t, file.Watches, 1)
	config := file.Watches[0].Config()
	assert.False(t, config.DebounceEvents)
	assert.True(t, config.RetryOnFailure)
	assert.Equal(t, 5, config.MaxRetries)
	assert.True(t, config.WatchSubdirectories)

	process := file.Monitors.Process
	assert.True(t, process.Enabled)
	assert.Equal(t, 3*time.Second, process.Interval)
	assert.Equal(t, []string{"postgres"}, process.NameFilters)
	assert.Equal(t, uint64(2<<30), process.MemoryThreshold)
	assert.Equal(t, monitor.DefaultProcessCPUThreshold, process.CPUThreshold)

	assert.True(t, file.Monitors.Power.Enabled)
	assert.Equal(t, time.Minute, file.Monitors.Power.Interval)
	assert.Equal(t, monitor.DefaultBatteryLowThreshold, file.Monitors.Power.BatteryLowThreshold)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("log_level: info\nwatchez: []\n"), FormatYAML)
	require.Error(t, err)

	_, err = Parse([]byte("backend = \"native\"\nlisten_addr = \":1\"\n"), FormatTOML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
}

func TestParseEmptyYAMLUsesDefaults(t *testing.T) {
	file, err := Parse(nil, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Default(), file)
}

func TestValidateNamesFields(t *testing.T) {
	file := Default()
	file.LogLevel = "chatty"
	file.Backend = "kqueue"
	file.Listen = "8080"
	file.Watches = []Watch{
		{Path: ""},
		{Path: "/a", MaxRetries: -1},
		{Path: "/a/"},
	}
	file.Monitors.System.DiskThreshold = 120
	file.Monitors.Network.Interval = -time.Second
	file.Monitors.Power.BatteryLowThreshold = 101

	err := file.Validate()
	require.Error(t, err)

	var fields []string
	for _, wrapped := range err.(interface{ Unwrap() []error }).Unwrap() {
		var fieldErr *FieldError
		require.True(t, errors.As(wrapped, &fieldErr), "unexpected error %v", wrapped)
		fields = append(fields, fieldErr.Field)
	}
	assert.ElementsMatch(t, []string{
		"log_level",
		"backend",
		"listen",
		"watches[0].path",
		"watches[1]",
		"watches[2].path",
		"monitors.system.disk_threshold",
		"monitors.network.interval",
		"monitors.power.battery_low_threshold",
	}, fields)
}

func TestParseRejectsUnknownEventType(t *testing.T) {
	_, err := Parse([]byte("watches:\n  - path: /x\n    event_types: [exploded]\n"), FormatYAML)
	require.Error(t, err)
}

func TestLoadChoosesDecoderByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "tellmewhen.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlConfig), 0o644))
	file, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "portable", file.Backend)

	tomlPath := filepath.Join(dir, "tellmewhen.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlConfig), 0o644))
	file, err = Load(tomlPath)
	require.NoError(t, err)
	assert.True(t, file.Monitors.Process.Enabled)

	_, err = Load(filepath.Join(dir, "tellmewhen.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config extension")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
