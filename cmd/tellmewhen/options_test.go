package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/monitor"
	"tellmewhen/internal/version"
	"tellmewhen/internal/watcher"
)

func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return func(name string) bool { return set[name] }
}

func TestResolveConfigFromArguments(t *testing.T) {
	flags := watchFlags{
		ignore:      []string{"*.log"},
		events:      []string{"created", "renamed"},
		noRecursive: true,
		noDebounce:  true,
		backend:     "portable",
		logLevel:    "debug",
	}
	file, err := resolveConfig(flags, changedSet("events", "backend", "log-level"), []string{"/srv/a"})
	require.NoError(t, err)

	assert.Equal(t, "portable", file.Backend)
	assert.Equal(t, "debug", file.LogLevel)
	require.Len(t, file.Watches, 1)
	config := file.Watches[0].Config()
	assert.False(t, config.WatchSubdirectories)
	assert.False(t, config.DebounceEvents)
	assert.Equal(t, []event.FsKind{event.FsCreated, event.FsRenamed}, config.EventTypes)
	assert.Equal(t, append(append([]string(nil), watcher.DefaultIgnorePatterns...), "*.log"), config.IgnorePatterns)
}

func TestResolveConfigLayersFlagsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tellmewhen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: portable
listen: "127.0.0.1:9000"
watches:
  - path: /srv/data
    ignore_patterns: ["*.bak"]
monitors:
  system:
    enabled: true
`), 0o644))

	flags := watchFlags{
		configPath: path,
		ignore:     []string{"*.log"},
		backend:    "native",
		monitors:   []string{"process", "network"},
	}
	file, err := resolveConfig(flags, changedSet("monitors"), []string{"/srv/extra"})
	require.NoError(t, err)

	assert.Equal(t, "portable", file.Backend)
	assert.Equal(t, "127.0.0.1:9000", file.Listen)
	assert.True(t, file.Monitors.Process.Enabled)
	assert.False(t, file.Monitors.System.Enabled)
	assert.True(t, file.Monitors.Network.Enabled)
	require.Len(t, file.Watches, 2)
	assert.Equal(t, []string{"*.bak", "*.log"}, file.Watches[0].IgnorePatterns)
	assert.Equal(t, "/srv/extra", file.Watches[1].Path)

	options := systemOptions(file, logging.Nop())
	assert.NotNil(t, options.Process)
	assert.Nil(t, options.System)
	assert.NotNil(t, options.Network)
	assert.Equal(t, "portable", options.Backend)
}

func TestResolveConfigErrors(t *testing.T) {
	_, err := resolveConfig(watchFlags{}, changedSet(), nil)
	assert.True(t, errors.Is(err, errNothingToDo))

	_, err = resolveConfig(watchFlags{events: []string{"exploded"}}, changedSet("events"), []string{"/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--events")

	_, err = resolveConfig(watchFlags{monitors: []string{"weather"}}, changedSet("monitors"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather")

	_, err = resolveConfig(watchFlags{backend: "kqueue"}, changedSet("backend"), []string{"/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")

	_, err = resolveConfig(watchFlags{}, changedSet(), []string{"/a", "/a"})
	require.Error(t, err)
}

func TestResolveConfigMonitorsOnly(t *testing.T) {
	file, err := resolveConfig(watchFlags{monitors: []string{"system"}}, changedSet("monitors"), nil)
	require.NoError(t, err)
	assert.Empty(t, file.Watches)
	assert.True(t, file.Monitors.System.Enabled)
}

func TestResolveConfigPowerMonitor(t *testing.T) {
	file, err := resolveConfig(watchFlags{monitors: []string{"power"}}, changedSet("monitors"), nil)
	require.NoError(t, err)
	assert.True(t, file.Monitors.Power.Enabled)
	assert.False(t, file.Monitors.System.Enabled)

	options := systemOptions(file, logging.Nop())
	require.NotNil(t, options.Power)
	assert.Equal(t, monitor.DefaultBatteryLowThreshold, options.Power.BatteryLowThreshold)
	assert.Nil(t, options.Network)
}

func TestCheckFileVersion(t *testing.T) {
	file, err := resolveConfig(watchFlags{}, changedSet(), []string{"/a"})
	require.NoError(t, err)

	file.Version = "1.0.0"
	assert.NoError(t, checkFileVersion(file, version.VersionInfo{Version: "dev"}, nil))
	assert.NoError(t, checkFileVersion(file, version.VersionInfo{Version: "1.4.0", Major: 1, Minor: 4}, nil))
	assert.Error(t, checkFileVersion(file, version.VersionInfo{Version: "2.0.0", Major: 2}, nil))
}
