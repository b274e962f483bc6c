package game

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
)

// SystemMonitor samples host and runtime health into the Prometheus gauges.
// It runs as a slow cyclic job so the scrape endpoint always has fresh
// numbers without per-request sampling cost.
type SystemMonitor struct{}

// NewSystemMonitor builds the monitor job.
func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{}
}

// Sample refreshes the system gauges. A failed CPU probe keeps the previous
// value; the run itself never fails.
func (m *SystemMonitor) Sample(ctx context.Context) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics.SystemCPUPercent.Set(percents[0])
	} else if err != nil {
		logging.Debug(ctx, "CPU sample failed", zap.Error(err))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	metrics.SystemMemoryBytes.Set(float64(memStats.Sys))

	metrics.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
