package monitor

import (
	"context"
	"time"

	"tellmewhen/internal/event"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/metrics"
)

const (
	SourceProcess = "process"
	SourceSystem  = "system"
	SourceNetwork = "network"
	SourcePower   = "power"
)

// Options carries what every monitor needs to publish and report.
type Options struct {
	Publisher *event.Publisher
	Logger    *logging.Logger
	Metrics   *metrics.Registry
}

type base struct {
	name      string
	publisher *event.Publisher
	logger    *logging.Logger
	metrics   *metrics.Registry
}

func newBase(name string, options Options) base {
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return base{
		name:      name,
		publisher: options.Publisher,
		logger:    logging.OrNop(options.Logger).Component("monitor." + name),
		metrics:   registry,
	}
}

func (b base) String() string {
	return "monitor." + b.name
}

func (b base) publish(data event.Event) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(data)
}

// run samples immediately and then on every tick until ctx is done. Sampling
// errors are logged and the loop continues.
func (b base) run(ctx context.Context, interval time.Duration, poll func(context.Context, time.Time) error) error {
	b.logger.Info("monitor started", logging.Fields{"interval": interval.String()})
	defer b.logger.Info("monitor stopped", nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	now := time.Now().UTC()
	for {
		if err := poll(ctx, now); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.metrics.IncMonitorError(b.name)
			b.logger.Warn("sample failed", logging.ErrorFields(err, nil))
		} else {
			b.metrics.IncMonitorSample(b.name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticker.C:
			now = tick.UTC()
		}
	}
}

// edge tracks rising-edge crossings per key.
type edge map[string]bool

// rise reports whether value crossed threshold since the last call for key.
func (e edge) rise(key string, value, threshold float64) bool {
	return e.enter(key, threshold > 0 && value >= threshold)
}

// enter reports whether the condition for key became true since the last
// call.
func (e edge) enter(key string, active bool) bool {
	was := e[key]
	if active {
		e[key] = true
	} else {
		delete(e, key)
	}
	return active && !was
}

func float64Ptr(value float64) *float64 {
	return &value
}

func uint64Ptr(value uint64) *uint64 {
	return &value
}
