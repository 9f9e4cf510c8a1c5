package health

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testReading() Reading {
	return Reading{
		ID:         uuid.MustParse("6f1c1e8e-2f4b-4c41-9d59-3c1d2f0a9b10"),
		Metric:     "pain",
		Level:      3,
		PeerID:     uuid.MustParse("0b7f6d7a-77a2-4d5e-8f0c-1e2d3c4b5a69"),
		ReceivedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if err := NewLogSink(logger).Record(context.Background(), testReading()); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"health reading", "metric=pain", "level=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestMulti(t *testing.T) {
	var calls []string
	errBoom := errors.New("boom")

	m := Multi{
		SinkFunc(func(ctx context.Context, r Reading) error {
			calls = append(calls, "a")
			return errBoom
		}),
		SinkFunc(func(ctx context.Context, r Reading) error {
			calls = append(calls, "b")
			return nil
		}),
		Discard,
	}

	err := m.Record(context.Background(), testReading())
	if !errors.Is(err, errBoom) {
		t.Errorf("Record() error = %v, want errBoom", err)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, every sink must be tried", calls)
	}

	if err := (Multi{}).Record(context.Background(), testReading()); err != nil {
		t.Errorf("empty Multi returned %v", err)
	}
}
