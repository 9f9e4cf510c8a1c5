package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Reading is one health_update received from a viewer.
type Reading struct {
	ID         uuid.UUID
	Metric     string  // e.g. "pain", "anxiety"
	Level      float64 // 0-4 on the dashboard's tracker
	PeerID     uuid.UUID
	ReceivedAt time.Time
}

// Sink receives health readings.
type Sink interface {
	Record(ctx context.Context, r Reading) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, r Reading) error

func (f SinkFunc) Record(ctx context.Context, r Reading) error {
	return f(ctx, r)
}

// Discard drops every reading.
var Discard Sink = SinkFunc(func(context.Context, Reading) error { return nil })

// LogSink writes each reading as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record logs the reading at info level.
func (s *LogSink) Record(ctx context.Context, r Reading) error {
	s.logger.InfoContext(ctx, "health reading",
		"id", r.ID,
		"metric", r.Metric,
		"level", r.Level,
		"peer", r.PeerID,
	)
	return nil
}

// Multi fans a reading out to several sinks. Every sink is tried; errors
// are joined.
type Multi []Sink

// Record forwards r to every sink.
func (m Multi) Record(ctx context.Context, r Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
