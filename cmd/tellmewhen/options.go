package main

import (
	"errors"
	"fmt"
	"strings"

	"tellmewhen/internal/app"
	"tellmewhen/internal/config"
	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/monitor"
	"tellmewhen/internal/version"
	"tellmewhen/internal/watcher"
)

const historySize = 256

var errNothingToDo = errors.New("nothing to watch: pass paths, list watches in --config or enable --monitors")

type watchFlags struct {
	configPath  string
	ignore      []string
	events      []string
	noRecursive bool
	noDebounce  bool
	backend     string
	listen      string
	token       string
	logLevel    string
	monitors    []string
}

// watchOverride carries the per-watch flags. They apply to every watch, from
// the command line or the configuration file.
type watchOverride struct {
	ignore      []string
	events      []event.FsKind
	noRecursive bool
	noDebounce  bool
}

func (o watchOverride) apply(watch *config.Watch) {
	if len(o.ignore) > 0 {
		base := watch.IgnorePatterns
		if base == nil {
			base = watcher.DefaultIgnorePatterns
		}
		watch.IgnorePatterns = append(append([]string(nil), base...), o.ignore...)
	}
	if o.events != nil {
		watch.EventTypes = append([]event.FsKind(nil), o.events...)
	}
	if o.noRecursive {
		recursive := false
		watch.WatchSubdirectories = &recursive
	}
	if o.noDebounce {
		debounce := false
		watch.DebounceEvents = &debounce
	}
}

// resolveConfig loads the configuration file, if any, and layers the flags
// that were set on top of it. Positional paths become additional watches.
func resolveConfig(flags watchFlags, changed func(string) bool, paths []string) (config.File, error) {
	file := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return config.File{}, err
		}
		file = loaded
	}
	if changed("log-level") {
		file.LogLevel = flags.logLevel
	}
	if changed("backend") {
		file.Backend = flags.backend
	}
	if changed("listen") {
		file.Listen = flags.listen
	}
	if changed("monitors") {
		if err := enableMonitors(&file.Monitors, flags.monitors); err != nil {
			return config.File{}, err
		}
	}

	override := watchOverride{
		ignore:      flags.ignore,
		noRecursive: flags.noRecursive,
		noDebounce:  flags.noDebounce,
	}
	if changed("events") {
		kinds, err := parseKinds(flags.events)
		if err != nil {
			return config.File{}, err
		}
		override.events = kinds
	}
	for i := range file.Watches {
		override.apply(&file.Watches[i])
	}
	for _, path := range paths {
		watch := config.Watch{Path: path}
		override.apply(&watch)
		file.Watches = append(file.Watches, watch)
	}

	if err := file.Validate(); err != nil {
		return config.File{}, err
	}
	monitors := file.Monitors
	if len(file.Watches) == 0 && !monitors.Process.Enabled && !monitors.System.Enabled && !monitors.Network.Enabled && !monitors.Power.Enabled {
		return config.File{}, errNothingToDo
	}
	return file, nil
}

func parseKinds(values []string) ([]event.FsKind, error) {
	kinds := make([]event.FsKind, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		kind, err := event.ParseFsKind(value)
		if err != nil {
			return nil, fmt.Errorf("--events: %w", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// enableMonitors replaces the enabled set with names.
func enableMonitors(monitors *config.Monitors, names []string) error {
	monitors.Process.Enabled = false
	monitors.System.Enabled = false
	monitors.Network.Enabled = false
	monitors.Power.Enabled = false
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case monitor.SourceProcess:
			monitors.Process.Enabled = true
		case monitor.SourceSystem:
			monitors.System.Enabled = true
		case monitor.SourceNetwork:
			monitors.Network.Enabled = true
		case monitor.SourcePower:
			monitors.Power.Enabled = true
		default:
			return fmt.Errorf("--monitors: unknown monitor %q (want process, system, network or power)", name)
		}
	}
	return nil
}

func systemOptions(file config.File, logger *logging.Logger) app.Options {
	options := app.Options{
		Logger:      logger,
		Backend:     file.Backend,
		HistorySize: historySize,
	}
	if file.Monitors.Process.Enabled {
		process := file.Monitors.Process.ProcessConfig
		options.Process = &process
	}
	if file.Monitors.System.Enabled {
		system := file.Monitors.System.SystemConfig
		options.System = &system
	}
	if file.Monitors.Network.Enabled {
		network := file.Monitors.Network.NetworkConfig
		options.Network = &network
	}
	if file.Monitors.Power.Enabled {
		power := file.Monitors.Power.PowerConfig
		options.Power = &power
	}
	return options
}

// checkFileVersion compares a declared configuration version with this
// build. Development builds skip the check.
func checkFileVersion(file config.File, current version.VersionInfo, logger *logging.Logger) error {
	if file.Version == "" || current.IsDev() {
		return nil
	}
	declared, err := version.Parse(file.Version)
	if err != nil {
		return err
	}
	return config.CheckVersionCompatibility(declared, current, logger)
}
