package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"okxfeed/logger"
)

const reportComponent = "report"

// ReportSource contributes extra fields, such as connection states and
// dispatcher counters, to the periodic runtime report.
type ReportSource func() logger.Fields

// StartReport begins periodic logging of runtime and stream statistics.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration, sources ...ReportSource) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, sources)
			}
		}
	}()
}

func logReport(log *logger.Log, sources []ReportSource) logger.Fields {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	warnings, errors := logger.LevelCounts()

	fields := logger.Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memMB,
		"warnings":    warnings,
		"errors":      errors,
	}
	for _, src := range sources {
		for k, v := range src() {
			fields[k] = v
		}
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	EmitMetric(log, reportComponent, "cpu_percent", cpuPct, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, reportComponent, "memory_mb", memMB, "gauge", logger.Fields{"unit": "megabytes"})
	EmitMetric(log, reportComponent, "goroutines", runtime.NumGoroutine(), "gauge", logger.Fields{"unit": "count"})
	return fields
}
