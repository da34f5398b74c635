package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tellmewhen/internal/api"
	"tellmewhen/internal/app"
	"tellmewhen/internal/config"
	"tellmewhen/internal/logging"
	"tellmewhen/internal/metrics"
	"tellmewhen/internal/native"
	"tellmewhen/internal/version"
)

var terminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

func newWatchCommand() *cobra.Command {
	flags := &watchFlags{}
	command := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Watch paths and monitors and print every event as a line",
		RunE: func(command *cobra.Command, arguments []string) error {
			return watchMain(command, arguments, flags)
		},
	}
	flags.register(command.Flags())
	return command
}

func (flags *watchFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&flags.configPath, "config", "c", "", "YAML or TOML configuration file")
	flagSet.StringArrayVar(&flags.ignore, "ignore", nil, "additional ignore pattern (repeatable)")
	flagSet.StringSliceVar(&flags.events, "events", nil, "event kinds to report (created,modified,deleted,renamed,moved,attribute_changed,permission_changed)")
	flagSet.BoolVar(&flags.noRecursive, "no-recursive", false, "do not watch subdirectories")
	flagSet.BoolVar(&flags.noDebounce, "no-debounce", false, "report every raw change without merging")
	flagSet.StringVar(&flags.backend, "backend", native.BackendNative, "watch backend: native or portable")
	flagSet.StringVar(&flags.listen, "listen", "", "serve the websocket event stream and metrics on this address")
	flagSet.StringVar(&flags.token, "token", "", "bearer token required by the HTTP surface")
	flagSet.StringVar(&flags.logLevel, "log-level", string(logging.LevelInfo), "log level: debug, info, warning or error")
	flagSet.StringSliceVar(&flags.monitors, "monitors", nil, "monitors to run: process,system,network,power")
}

func watchMain(command *cobra.Command, arguments []string, flags *watchFlags) error {
	file, err := resolveConfig(*flags, command.Flags().Changed, arguments)
	if err != nil {
		return err
	}
	level, _ := logging.ParseLevel(file.LogLevel)
	logger := logging.NewLogger(logging.NewLogBuffer(logging.DefaultBufferSize), level)
	if err := checkFileVersion(file, version.GetVersionInfo(), logger); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, terminationSignals...)
	defer signal.Stop(signals)
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	return runWatch(ctx, file, flags.token, command.OutOrStdout(), logger)
}

// runWatch starts everything file describes and blocks until ctx is done or
// the HTTP server fails, then shuts down in order.
func runWatch(ctx context.Context, file config.File, token string, out io.Writer, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	system := app.NewSystem(systemOptions(file, logger))
	system.Subscribe(newPrinter(out).print)
	if err := system.Start(ctx); err != nil {
		return err
	}
	for _, watch := range file.Watches {
		if err := system.WatchPathWithConfig(watch.Path, watch.Config()); err != nil {
			_ = system.Stop()
			return fmt.Errorf("watch %s: %w", watch.Path, err)
		}
	}
	logger.Info("watching", logging.Fields{
		"paths":    strconv.Itoa(len(file.Watches)),
		"monitors": fmt.Sprint(system.Monitors()),
		"backend":  file.Backend,
	})

	coordinator := newShutdownCoordinator(logger)
	serveErr := make(chan error, 1)
	if file.Listen != "" {
		handler := api.NewHandler(api.Options{
			Bus:       system.Bus(),
			Metrics:   metrics.Default,
			Logger:    logger,
			AuthToken: token,
			Watches:   system.WatchStatuses,
			Monitors:  system.Monitors,
		})
		serveDone := make(chan struct{})
		go func() {
			defer close(serveDone)
			if err := api.Serve(ctx, file.Listen, handler, logger); err != nil {
				serveErr <- err
				cancel()
			}
		}()
		coordinator.Add("http", func(context.Context) error {
			<-serveDone
			return nil
		})
	}
	coordinator.Add("event system", func(context.Context) error {
		return system.Stop()
	})

	<-ctx.Done()
	shutdownErr := coordinator.Run(context.Background())
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	return shutdownErr
}
