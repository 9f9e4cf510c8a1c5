// bridge pushes host metrics to a running relay and logs toggles made on
// the dashboard.
// Usage: go run ./cmd/bridge --url ws://localhost:5000/ws
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cybergrid/hud-relay/internal/bridge"
	"github.com/cybergrid/hud-relay/internal/config"
	"github.com/cybergrid/hud-relay/internal/model"
	"github.com/cybergrid/hud-relay/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (built-in defaults when empty)")
	url := pflag.String("url", "", "relay WebSocket URL, overrides bridge.url")
	interval := pflag.Duration("interval", 0, "metrics interval, overrides bridge.metrics_interval")
	verbose := pflag.BoolP("verbose", "v", false, "log at debug level")
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadAndValidate(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	if *url != "" {
		cfg.Bridge.URL = *url
	}
	if *interval > 0 {
		cfg.Bridge.MetricsInterval = *interval
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	logger := cfg.Log.NewLogger(os.Stdout)

	logger.Info("starting bridge",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Bridge.URL,
		"interval", cfg.Bridge.MetricsInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var b *bridge.Bridge
	b = bridge.New(bridge.Config{
		URL:                cfg.Bridge.URL,
		MetricsInterval:    cfg.Bridge.MetricsInterval,
		ReconnectBaseDelay: cfg.Bridge.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Bridge.ReconnectMaxDelay,
		IdleTimeout:        cfg.Bridge.IdleTimeout,
	}, bridge.NewHostCollector(), logger,
		bridge.WithStateChangeHandler(func(key string, value bool) {
			logger.Info("dashboard toggle", "key", key, "value", value)
		}),
		bridge.WithConnectHandler(func() {
			host, _ := os.Hostname()
			if err := b.PushLog(model.LevelSuccess, "telemetry bridge online: "+host); err != nil {
				logger.Warn("failed to announce bridge", "error", err)
			}
		}),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(gctx)
	})

	g.Wait()

	st := b.Stats()
	logger.Info("bridge stopped",
		"connects", st.Connects,
		"metrics_pushed", st.MetricsPushed,
		"messages_sent", st.MessagesSent,
	)
}
