package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/monitor"
	"tellmewhen/internal/native"
	"tellmewhen/internal/version"
	"tellmewhen/internal/watcher"
)

const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// File is the whole-process configuration.
type File struct {
	// Version optionally names the release the file was written for.
	Version  string   `yaml:"version" toml:"version"`
	LogLevel string   `yaml:"log_level" toml:"log_level"`
	Backend  string   `yaml:"backend" toml:"backend"`
	Listen   string   `yaml:"listen" toml:"listen"`
	Watches  []Watch  `yaml:"watches" toml:"watches"`
	Monitors Monitors `yaml:"monitors" toml:"monitors"`
}

// Watch is one watched path. Unset fields inherit watcher.DefaultConfig.
type Watch struct {
	Path                string         `yaml:"path" toml:"path"`
	WatchSubdirectories *bool          `yaml:"watch_subdirectories" toml:"watch_subdirectories"`
	IgnorePatterns      []string       `yaml:"ignore_patterns" toml:"ignore_patterns"`
	DebounceEvents      *bool          `yaml:"debounce_events" toml:"debounce_events"`
	DebounceWindow      time.Duration  `yaml:"debounce_window" toml:"debounce_window"`
	EventTypes          []event.FsKind `yaml:"event_types" toml:"event_types"`
	RetryOnFailure      *bool          `yaml:"retry_on_failure" toml:"retry_on_failure"`
	MaxRetries          int            `yaml:"max_retries" toml:"max_retries"`
}

type Monitors struct {
	Process ProcessMonitor `yaml:"process" toml:"process"`
	System  SystemMonitor  `yaml:"system" toml:"system"`
	Network NetworkMonitor `yaml:"network" toml:"network"`
	Power   PowerMonitor   `yaml:"power" toml:"power"`
}

type ProcessMonitor struct {
	Enabled               bool `yaml:"enabled" toml:"enabled"`
	monitor.ProcessConfig `yaml:",inline"`
}

type SystemMonitor struct {
	Enabled              bool `yaml:"enabled" toml:"enabled"`
	monitor.SystemConfig `yaml:",inline"`
}

type NetworkMonitor struct {
	Enabled               bool `yaml:"enabled" toml:"enabled"`
	monitor.NetworkConfig `yaml:",inline"`
}

type PowerMonitor struct {
	Enabled             bool `yaml:"enabled" toml:"enabled"`
	monitor.PowerConfig `yaml:",inline"`
}

// FieldError names the configuration key a validation failure refers to.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldError(field string, format string, args ...any) error {
	return &FieldError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Default returns the configuration used when no file is given: info
// logging, the native backend and every monitor disabled with its default
// thresholds.
func Default() File {
	return File{
		LogLevel: string(logging.LevelInfo),
		Backend:  native.BackendNative,
		Monitors: Monitors{
			Process: ProcessMonitor{ProcessConfig: monitor.DefaultProcessConfig()},
			System:  SystemMonitor{SystemConfig: monitor.DefaultSystemConfig()},
			Network: NetworkMonitor{NetworkConfig: monitor.DefaultNetworkConfig()},
			Power:   PowerMonitor{PowerConfig: monitor.DefaultPowerConfig()},
		},
	}
}

// Load reads path, choosing the decoder by extension, and validates the
// result.
func Load(path string) (File, error) {
	format, err := FormatFor(path)
	if err != nil {
		return File{}, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	file, err := Parse(payload, format)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// FormatFor maps a file extension to a format.
func FormatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Parse decodes payload over Default and validates it. Unknown keys are
// rejected.
func Parse(payload []byte, format string) (File, error) {
	file := Default()
	switch format {
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(payload))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return File{}, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		metadata, err := toml.Decode(string(payload), &file)
		if err != nil {
			return File{}, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return File{}, fmt.Errorf("decode toml: unknown keys %s", strings.Join(keys, ", "))
		}
	default:
		return File{}, fmt.Errorf("unsupported config format %q", format)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

// Validate reports every invalid field at once.
func (f File) Validate() error {
	var errs []error
	if f.Version != "" {
		if _, err := version.Parse(f.Version); err != nil {
			errs = append(errs, &FieldError{Field: "version", Err: err})
		}
	}
	if _, ok := logging.ParseLevel(f.LogLevel); !ok {
		errs = append(errs, fieldError("log_level", "unknown level %q", f.LogLevel))
	}
	switch strings.ToLower(strings.TrimSpace(f.Backend)) {
	case "", native.BackendNative, native.BackendPortable:
	default:
		errs = append(errs, fieldError("backend", "unknown backend %q (want %s or %s)", f.Backend, native.BackendNative, native.BackendPortable))
	}
	if f.Listen != "" {
		if _, _, err := net.SplitHostPort(f.Listen); err != nil {
			errs = append(errs, &FieldError{Field: "listen", Err: err})
		}
	}

	seen := make(map[string]int, len(f.Watches))
	for i, watch := range f.Watches {
		field := fmt.Sprintf("watches[%d]", i)
		if strings.TrimSpace(watch.Path) == "" {
			errs = append(errs, fieldError(field+".path", "path is required"))
			continue
		}
		cleaned := filepath.Clean(watch.Path)
		if first, duplicate := seen[cleaned]; duplicate {
			errs = append(errs, fieldError(field+".path", "%s is already listed in watches[%d]", watch.Path, first))
		} else {
			seen[cleaned] = i
		}
		if err := watch.Config().Validate(); err != nil {
			errs = append(errs, &FieldError{Field: field, Err: err})
		}
	}

	errs = append(errs, validateInterval("monitors.process.interval", f.Monitors.Process.Interval))
	errs = append(errs, validatePercent("monitors.process.cpu_threshold", f.Monitors.Process.CPUThreshold, false))
	errs = append(errs, validateInterval("monitors.system.interval", f.Monitors.System.Interval))
	errs = append(errs, validatePercent("monitors.system.cpu_threshold", f.Monitors.System.CPUThreshold, true))
	errs = append(errs, validatePercent("monitors.system.memory_threshold", f.Monitors.System.MemoryThreshold, true))
	errs = append(errs, validatePercent("monitors.system.disk_threshold", f.Monitors.System.DiskThreshold, true))
	if f.Monitors.System.TemperatureThreshold < 0 {
		errs = append(errs, fieldError("monitors.system.temperature_threshold", "must not be negative"))
	}
	if f.Monitors.System.LoadThreshold < 0 {
		errs = append(errs, fieldError("monitors.system.load_threshold", "must not be negative"))
	}
	errs = append(errs, validateInterval("monitors.network.interval", f.Monitors.Network.Interval))
	errs = append(errs, validateInterval("monitors.power.interval", f.Monitors.Power.Interval))
	errs = append(errs, validatePercent("monitors.power.battery_low_threshold", f.Monitors.Power.BatteryLowThreshold, true))
	return errors.Join(errs...)
}

// Config resolves the watch against the watcher defaults.
func (w Watch) Config() watcher.Config {
	config := watcher.DefaultConfig()
	if w.WatchSubdirectories != nil {
		config.WatchSubdirectories = *w.WatchSubdirectories
	}
	if w.IgnorePatterns != nil {
		config.IgnorePatterns = append([]string(nil), w.IgnorePatterns...)
	}
	if w.DebounceEvents != nil {
		config.DebounceEvents = *w.DebounceEvents
	}
	if w.DebounceWindow != 0 {
		config.DebounceWindow = w.DebounceWindow
	}
	if w.EventTypes != nil {
		config.EventTypes = append([]event.FsKind(nil), w.EventTypes...)
	}
	if w.RetryOnFailure != nil {
		config.RetryOnFailure = *w.RetryOnFailure
	}
	if w.MaxRetries != 0 {
		config.MaxRetries = w.MaxRetries
	}
	return config
}

func validateInterval(field string, interval time.Duration) error {
	if interval < 0 {
		return fieldError(field, "must not be negative, got %s", interval)
	}
	return nil
}

// validatePercent accepts zero as "disabled". Per-process CPU may exceed 100
// on multi-core hosts.
func validatePercent(field string, value float64, capped bool) error {
	if value < 0 {
		return fieldError(field, "must not be negative, got %g", value)
	}
	if capped && value > 100 {
		return fieldError(field, "must be at most 100, got %g", value)
	}
	return nil
}
