// relaytail connects to a relay as a viewer and prints what it receives.
// Usage: go run ./cmd/relaytail --url ws://localhost:5000/ws
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cybergrid/hud-relay/internal/connection"
	"github.com/cybergrid/hud-relay/internal/model"
	"github.com/cybergrid/hud-relay/internal/router"
)

const reconnectDelay = 3 * time.Second

func main() {
	url := pflag.String("url", "ws://localhost:5000/ws", "relay WebSocket URL")
	verbose := pflag.BoolP("verbose", "v", false, "print full message JSON")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := connection.NewClient(connection.ClientConfig{
		URL:            *url,
		RedialDelay:    reconnectDelay,
		MaxRedialDelay: reconnectDelay,
	}, logger)

	var count int64
	client.Run(ctx, func(msg connection.Inbound) {
		count++
		if *verbose {
			printVerbose(msg)
		} else {
			fmt.Println(summarize(msg))
		}
	})

	logger.Info("stopped", "messages", count, "connects", client.Stats().Connects)
}

func printVerbose(msg connection.Inbound) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, msg.Raw, "", "  "); err != nil {
		fmt.Printf("[%s] %s\n", msg.ReceivedAt.Format("15:04:05.000"), msg.Raw)
		return
	}
	fmt.Printf("[%s]\n%s\n", msg.ReceivedAt.Format("15:04:05.000"), buf.String())
}

// summarize renders one message as a single console line.
func summarize(msg connection.Inbound) string {
	ts := msg.ReceivedAt.Format("15:04:05.000")

	switch router.MessageType(msg.Type) {
	case router.TypeFull:
		var snap model.Snapshot
		if json.Unmarshal(msg.Data, &snap) == nil {
			return fmt.Sprintf("[%s] FULL    mode=%s logs=%d ticker=%d network=%s",
				ts, snap.JarvisState.Mode, len(snap.Logs), len(snap.TickerItems), snap.NetworkStatus)
		}

	case router.TypeMetrics:
		var m model.Metrics
		if json.Unmarshal(msg.Data, &m) == nil {
			return fmt.Sprintf("[%s] METRICS cpu=%.1f mem=%.1f cpuTemp=%.1f gpuTemp=%.1f",
				ts, m[model.MetricCPU], m[model.MetricMemory], m[model.MetricCPUTemp], m[model.MetricGPUTemp])
		}

	case router.TypeState:
		return fmt.Sprintf("[%s] STATE   %s", ts, msg.Data)

	case router.TypeLog:
		var e model.LogEntry
		if json.Unmarshal(msg.Data, &e) == nil {
			return fmt.Sprintf("[%s] LOG     %-7s %s", ts, strings.ToUpper(string(e.Level)), e.Message)
		}

	case router.TypeFocus:
		var f model.FocusContent
		if json.Unmarshal(msg.Data, &f) == nil {
			return fmt.Sprintf("[%s] FOCUS   %s %q (%d bytes)", ts, f.Type, f.Title, len(f.Content))
		}

	case router.TypeTicker:
		var items []model.TickerItem
		if json.Unmarshal(msg.Data, &items) == nil {
			keys := make([]string, len(items))
			for i, it := range items {
				keys[i] = it.ShortKey
			}
			return fmt.Sprintf("[%s] TICKER  %s", ts, strings.Join(keys, " "))
		}
	}

	return fmt.Sprintf("[%s] %-7s %s", ts, strings.ToUpper(msg.Type), msg.Data)
}
