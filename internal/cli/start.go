package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/catapultcase/JunctionRelay-Collectors/internal/config"
	"github.com/catapultcase/JunctionRelay-Collectors/internal/logger"
	"github.com/catapultcase/JunctionRelay-Collectors/internal/metrics"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/host"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/sink"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the collector host daemon",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	m := metrics.New()

	var sinks []sink.Sink
	if cfg.Sink.Log {
		sinks = append(sinks, sink.NewLogSink(log))
	}
	var wsSink *sink.WebSocketSink
	if cfg.Sink.WebSocket.Enabled {
		wsSink = sink.NewWebSocketSink(log)
		sinks = append(sinks, wsSink)
		go func() {
			log.Info().Str("addr", cfg.Sink.WebSocket.Addr).Msg("websocket sink listening")
			if err := http.ListenAndServe(cfg.Sink.WebSocket.Addr, wsSink); err != nil {
				log.Error().Err(err).Msg("websocket sink server failed")
			}
		}()
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint listening")
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	runtime := host.NewRuntime(host.Options{
		PluginRoot:     cfg.PluginRoot,
		RequestTimeout: time.Duration(cfg.Plugins.RequestTimeoutMs) * time.Millisecond,
		ReadyTimeout:   time.Duration(cfg.Plugins.ReadyTimeoutMs) * time.Millisecond,
		MaxRestarts:    cfg.Plugins.MaxRestarts,
		RestartDelay:   time.Duration(cfg.Plugins.RestartDelayMs) * time.Millisecond,
		PollFloor:      time.Duration(cfg.Plugins.PollFloorMs) * time.Millisecond,
		Sinks:          sinks,
		Metrics:        m,
		Logger:         log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runtime.Initialize(ctx)
	if err != nil {
		return err
	}
	for name, loadErr := range result.Errors {
		log.Warn().Err(loadErr).Str("plugin", name).Msg("plugin failed to load")
	}

	var watcher *host.PluginWatcher
	if cfg.Plugins.Watch {
		watcher, err = host.NewPluginWatcher(host.PluginWatcherConfig{
			Root:   cfg.PluginRoot,
			Logger: log,
			OnChange: func() {
				log.Info().Msg("plugin root changed; restart the host to pick up new plugins")
			},
		})
		if err != nil {
			log.Warn().Err(err).Msg("plugin watcher unavailable")
		} else if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("plugin watcher failed to start")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	if watcher != nil {
		watcher.Stop()
	}
	if wsSink != nil {
		wsSink.Close()
	}
	runtime.Shutdown()
	return nil
}
