package bridge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/cybergrid/hud-relay/internal/model"
)

// Collector samples host metrics.
type Collector interface {
	Collect(ctx context.Context) (model.Metrics, error)
}

// CollectorFunc is a function adapter for Collector.
type CollectorFunc func(ctx context.Context) (model.Metrics, error)

func (f CollectorFunc) Collect(ctx context.Context) (model.Metrics, error) {
	return f(ctx)
}

// TemperatureSource lists hardware temperature sensors.
type TemperatureSource func(ctx context.Context) ([]sensors.TemperatureStat, error)

// Sensor key prefixes, in order of preference.
var (
	cpuSensors = []string{"coretemp", "cpu_thermal", "k10temp"}
	gpuSensors = []string{"nvidia", "amdgpu", "radeon"}
)

// HostCollector reads CPU, memory and temperature sensors with gopsutil.
type HostCollector struct {
	// SampleWindow is how long CPU usage is measured over. Default: 100ms.
	SampleWindow time.Duration

	// Temperatures lists sensors. Nil skips sensors and always estimates.
	Temperatures TemperatureSource
}

// NewHostCollector creates a HostCollector that reads the host's sensors.
func NewHostCollector() *HostCollector {
	return &HostCollector{
		SampleWindow: 100 * time.Millisecond,
		Temperatures: sensors.TemperaturesWithContext,
	}
}

// Collect returns cpu, memory, cpuTemp and gpuTemp, each rounded to one
// decimal. A temperature with no matching sensor is estimated from CPU load.
func (h *HostCollector) Collect(ctx context.Context) (model.Metrics, error) {
	window := h.SampleWindow
	if window <= 0 {
		window = 100 * time.Millisecond
	}

	percents, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return nil, fmt.Errorf("read cpu: %w", err)
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}

	var cpuTemp, gpuTemp float64
	if h.Temperatures != nil {
		// Sensor errors are often partial (one unreadable zone); use
		// whatever was returned.
		stats, _ := h.Temperatures(ctx)
		cpuTemp = sensorTemp(stats, cpuSensors)
		gpuTemp = sensorTemp(stats, gpuSensors)
	}

	return hostMetrics(cpuPct, vm.UsedPercent, cpuTemp, gpuTemp), nil
}

// sensorTemp returns the first positive reading whose key starts with one
// of prefixes, trying prefixes in order. It returns 0 when none match.
func sensorTemp(stats []sensors.TemperatureStat, prefixes []string) float64 {
	for _, prefix := range prefixes {
		for _, s := range stats {
			if strings.HasPrefix(s.SensorKey, prefix) && s.Temperature > 0 {
				return s.Temperature
			}
		}
	}
	return 0
}

// hostMetrics rounds the readings. Zero temperatures fall back to an
// estimate from CPU load.
func hostMetrics(cpuPct, memPct, cpuTemp, gpuTemp float64) model.Metrics {
	if cpuTemp == 0 {
		cpuTemp = 40 + cpuPct*0.4
	}
	if gpuTemp == 0 {
		gpuTemp = 45 + cpuPct*0.3
	}
	return model.Metrics{
		model.MetricCPU:     round1(cpuPct),
		model.MetricMemory:  round1(memPct),
		model.MetricCPUTemp: round1(cpuTemp),
		model.MetricGPUTemp: round1(gpuTemp),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
