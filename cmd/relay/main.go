// relay serves the HUD dashboard's WebSocket relay.
// Usage: go run ./cmd/relay --config configs/relay.example.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cybergrid/hud-relay/internal/config"
	"github.com/cybergrid/hud-relay/internal/connection"
	"github.com/cybergrid/hud-relay/internal/database"
	"github.com/cybergrid/hud-relay/internal/health"
	"github.com/cybergrid/hud-relay/internal/relay"
	"github.com/cybergrid/hud-relay/internal/router"
	"github.com/cybergrid/hud-relay/internal/state"
	"github.com/cybergrid/hud-relay/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (built-in defaults when empty)")
	addr := pflag.String("addr", "", "listen address, overrides server.addr")
	verbose := pflag.BoolP("verbose", "v", false, "log at debug level")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	// Set up structured logging
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"addr", cfg.Server.Addr,
	)

	// Create context with cancellation
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

	// Health sinks
	sink, closeSinks, err := buildSinks(ctx, cfg.Health, logger)
	if err != nil {
		logger.Error("failed to set up health sinks", "error", err)
		os.Exit(1)
	}
	defer closeSinks()

	store := state.NewStore(state.Config{
		LogCapacity:  cfg.State.LogCapacity,
		SnapshotLogs: cfg.State.SnapshotLogs,
	})
	registry := connection.NewRegistry()

	rt := router.New(router.Config{
		NetworkStatus:    cfg.Server.NetworkStatus,
		EncryptionStatus: cfg.Server.EncryptionStatus,
		HealthTimeout:    cfg.Health.RecordTimeout,
	}, store, registry, sink, logger)

	srv := relay.New(relay.Config{
		Addr:       cfg.Server.Addr,
		WSPath:     cfg.Server.WSPath,
		HealthPath: cfg.Server.HealthPath,
		StatsPath:  cfg.Server.StatsPath,
		Peer: connection.PeerConfig{
			SendBufferSize: cfg.Connections.SendBufferSize,
			WriteTimeout:   cfg.Connections.WriteTimeout,
			PingInterval:   cfg.Connections.PingInterval,
			PongWait:       cfg.Connections.PongWait,
			MaxMessageSize: cfg.Connections.MaxMessageSize,
		},
	}, rt, registry, store, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("relay running",
		"ws_url", fmt.Sprintf("ws://localhost%s%s", cfg.Server.Addr, cfg.Server.WSPath),
		"health_url", fmt.Sprintf("http://localhost%s%s", cfg.Server.Addr, cfg.Server.HealthPath),
	)

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped with error", "error", err)
		closeSinks()
		os.Exit(1)
	}

	st := rt.Stats()
	logger.Info("relay stopped",
		"messages_received", st.MessagesReceived,
		"messages_routed", st.MessagesRouted,
		"malformed", st.MalformedFrames,
		"health_forwarded", st.HealthForwarded,
	)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

// buildSinks creates the configured health sinks. The returned close
// function flushes and disconnects them; it is safe to call twice.
func buildSinks(ctx context.Context, cfg config.HealthConfig, logger *slog.Logger) (health.Sink, func(), error) {
	var sinks health.Multi
	var closers []func()

	closed := false
	closeAll := func() {
		if closed {
			return
		}
		closed = true
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.HasSink(config.SinkLog) {
		sinks = append(sinks, health.NewLogSink(logger.With("component", "health")))
	}

	if cfg.HasSink(config.SinkMQTT) {
		logger.Info("connecting to mqtt broker", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
		m, err := health.NewMQTTSink(health.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientID:       cfg.MQTT.ClientID,
			QoS:            cfg.MQTT.QoS,
			PublishTimeout: cfg.MQTT.PublishTimeout,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mqtt sink: %w", err)
		}
		sinks = append(sinks, m)
		closers = append(closers, func() { m.Close() })
	}

	if cfg.HasSink(config.SinkPostgres) {
		logger.Info("connecting to database",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres sink: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := database.EnsureHealthSchema(ctx, pool); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres sink: %w", err)
		}

		w := health.NewPostgresWriter(health.WriterConfig{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		}, pool, logger.With("component", "health_writer"))
		// The writer outlives the signal context so the final flush runs
		// after the server has drained.
		w.Start(context.Background())
		closers = append(closers, func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			w.Stop(stopCtx)
		})
		sinks = append(sinks, w)
	}

	if len(sinks) == 0 {
		return health.Discard, closeAll, nil
	}
	return sinks, closeAll, nil
}
