package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/thejerf/suture/v4"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/metrics"
	"tellmewhen/internal/monitor"
	"tellmewhen/internal/native"
	"tellmewhen/internal/watcher"
)

const BusName = "events"

var (
	ErrStarted        = errors.New("event system already started")
	ErrStopped        = errors.New("event system stopped")
	ErrMonitorEnabled = errors.New("monitor already enabled")
)

type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Backend selects the watch engine, "native" (default) or "portable".
	Backend string
	// Engine overrides Backend. The system closes it on Stop.
	Engine native.Engine
	// Filesystem is applied by WatchPath. Nil selects watcher.DefaultConfig.
	Filesystem  *watcher.Config
	HistorySize int

	// A non-nil monitor config enables that monitor.
	Process *monitor.ProcessConfig
	System  *monitor.SystemConfig
	Network *monitor.NetworkConfig
	Power   *monitor.PowerConfig

	// Nil sources sample the host.
	ProcessSource monitor.ProcessSource
	SystemSource  monitor.SystemSource
	NetworkSource monitor.NetworkSource
	PowerSource   monitor.PowerSource
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// System owns the bus every producer publishes on. The filesystem handler is
// built on first use; monitors run under a supervisor once Start is called.
type System struct {
	options Options
	logger  *logging.Logger
	metrics *metrics.Registry
	bus     *event.Bus[event.Message]

	mutex          sync.Mutex
	state          state
	cancel         context.CancelFunc
	supervisor     *suture.Supervisor
	supervisorDone <-chan error
	engine         native.Engine
	filesystem     *watcher.Handler
	monitors       map[string]suture.Service
}

func NewSystem(options Options) *System {
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	logger := logging.OrNop(options.Logger)
	system := &System{
		options:  options,
		logger:   logger.Component("event_system"),
		metrics:  registry,
		monitors: make(map[string]suture.Service),
		bus: event.NewBus[event.Message](event.BusOptions{
			Name:        BusName,
			HistorySize: options.HistorySize,
			Logger:      logger,
			Registry:    registry,
		}),
	}
	system.enableConfigured()
	return system
}

// enableConfigured enables the monitors named in the options. Failures are
// logged as one warning and leave the other monitors enabled.
func (s *System) enableConfigured() {
	var errs []error
	if s.options.Process != nil {
		errs = append(errs, s.EnableProcessMonitor(*s.options.Process))
	}
	if s.options.System != nil {
		errs = append(errs, s.EnableSystemMonitor(*s.options.System))
	}
	if s.options.Network != nil {
		errs = append(errs, s.EnableNetworkMonitor(*s.options.Network))
	}
	if s.options.Power != nil {
		errs = append(errs, s.EnablePowerMonitor(*s.options.Power))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("monitor not enabled", logging.ErrorFields(err, nil))
	}
}

func (s *System) Bus() *event.Bus[event.Message] {
	return s.bus
}

// Publisher returns a publish handle stamped with source, for collaborators
// that have no monitor of their own.
func (s *System) Publisher(source string) *event.Publisher {
	return event.NewPublisher(s.bus, source, source)
}

// Start begins dispatching and launches the enabled monitors. Cancelling ctx
// stops the monitors; Stop releases everything else.
func (s *System) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch s.state {
	case stateRunning:
		return ErrStarted
	case stateStopped:
		return ErrStopped
	}
	if err := s.bus.Start(context.Background()); err != nil {
		return err
	}

	s.supervisor = suture.New("tellmewhen", suture.Spec{
		EventHook: func(e suture.Event) {
			s.logger.Warn("supervisor event", logging.Fields{"event": e.String()})
		},
	})
	for _, name := range s.monitorNamesLocked() {
		s.supervisor.Add(s.monitors[name])
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.supervisorDone = s.supervisor.ServeBackground(runCtx)
	s.state = stateRunning
	s.logger.Info("event system started", logging.Fields{
		"monitors": fmt.Sprint(s.monitorNamesLocked()),
	})
	return nil
}

// Stop unwatches every path, stops the monitors and drains the bus. It is
// idempotent; a stopped system cannot be restarted.
func (s *System) Stop() error {
	s.mutex.Lock()
	if s.state == stateStopped {
		s.mutex.Unlock()
		return nil
	}
	s.state = stateStopped
	handler, engine := s.filesystem, s.engine
	cancel, done := s.cancel, s.supervisorDone
	s.mutex.Unlock()

	var errs []error
	if handler != nil {
		errs = append(errs, handler.Close())
	}
	if engine != nil {
		errs = append(errs, engine.Close())
	}
	if cancel != nil {
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	s.bus.Close()
	s.logger.Info("event system stopped", nil)
	return errors.Join(errs...)
}

// Filesystem returns the filesystem handler, building it and its engine on
// first use.
func (s *System) Filesystem() (*watcher.Handler, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == stateStopped {
		return nil, ErrStopped
	}
	if s.filesystem != nil {
		return s.filesystem, nil
	}
	engine := s.options.Engine
	if engine == nil {
		created, err := native.NewByName(s.options.Backend, s.logger)
		if err != nil {
			return nil, err
		}
		engine = created
	}
	handler, err := watcher.NewHandler(watcher.Options{
		Engine:  engine,
		Bus:     s.bus,
		Logger:  s.logger,
		Metrics: s.metrics,
		Config:  s.options.Filesystem,
	})
	if err != nil {
		if s.options.Engine == nil {
			_ = engine.Close()
		}
		return nil, err
	}
	s.engine = engine
	s.filesystem = handler
	return handler, nil
}

func (s *System) WatchPath(path string) error {
	handler, err := s.Filesystem()
	if err != nil {
		return err
	}
	return handler.WatchPath(path)
}

func (s *System) WatchPathWithConfig(path string, config watcher.Config) error {
	handler, err := s.Filesystem()
	if err != nil {
		return err
	}
	return handler.WatchPathWithConfig(path, config)
}

// UnwatchPath is a no-op when nothing was ever watched.
func (s *System) UnwatchPath(path string) error {
	s.mutex.Lock()
	handler := s.filesystem
	s.mutex.Unlock()
	if handler == nil {
		return nil
	}
	return handler.UnwatchPath(path)
}

func (s *System) WatchedPaths() []string {
	s.mutex.Lock()
	handler := s.filesystem
	s.mutex.Unlock()
	if handler == nil {
		return nil
	}
	return handler.WatchedPaths()
}

// WatchStatuses reports every live watch. Watches that terminated between
// listing and inspection are skipped.
func (s *System) WatchStatuses() []watcher.WatchStatus {
	s.mutex.Lock()
	handler := s.filesystem
	s.mutex.Unlock()
	if handler == nil {
		return nil
	}
	paths := handler.WatchedPaths()
	statuses := make([]watcher.WatchStatus, 0, len(paths))
	for _, path := range paths {
		status, err := handler.Status(path)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (s *System) EnableProcessMonitor(config monitor.ProcessConfig) error {
	return s.enable(monitor.SourceProcess, func(options monitor.Options) suture.Service {
		return monitor.NewProcessMonitor(config, s.options.ProcessSource, options)
	})
}

func (s *System) EnableSystemMonitor(config monitor.SystemConfig) error {
	return s.enable(monitor.SourceSystem, func(options monitor.Options) suture.Service {
		return monitor.NewSystemMonitor(config, s.options.SystemSource, options)
	})
}

func (s *System) EnableNetworkMonitor(config monitor.NetworkConfig) error {
	return s.enable(monitor.SourceNetwork, func(options monitor.Options) suture.Service {
		return monitor.NewNetworkMonitor(config, s.options.NetworkSource, options)
	})
}

func (s *System) EnablePowerMonitor(config monitor.PowerConfig) error {
	return s.enable(monitor.SourcePower, func(options monitor.Options) suture.Service {
		return monitor.NewPowerMonitor(config, s.options.PowerSource, options)
	})
}

// Monitors lists the enabled monitors by source name.
func (s *System) Monitors() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.monitorNamesLocked()
}

func (s *System) enable(name string, build func(monitor.Options) suture.Service) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == stateStopped {
		return ErrStopped
	}
	if _, ok := s.monitors[name]; ok {
		return fmt.Errorf("%w: %s", ErrMonitorEnabled, name)
	}
	service := build(monitor.Options{
		Publisher: event.NewPublisher(s.bus, name, name),
		Logger:    s.logger,
		Metrics:   s.metrics,
	})
	s.monitors[name] = service
	if s.state == stateRunning {
		s.supervisor.Add(service)
	}
	return nil
}

func (s *System) monitorNamesLocked() []string {
	names := make([]string, 0, len(s.monitors))
	for name := range s.monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
