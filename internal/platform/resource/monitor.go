// Package resource turns host resource readings into low-resource signals.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Probe returns the current resource level as a fraction in [0, 1],
// where lower means scarcer.
type Probe func(ctx context.Context) (float64, error)

// MemoryProbe reports available memory as a fraction of total memory.
func MemoryProbe(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory stats: %w", err)
	}
	if vm.Total == 0 {
		return 1, nil
	}
	return float64(vm.Available) / float64(vm.Total), nil
}

// Monitor polls a Probe and signals when the level drops below a threshold.
// The signal is edge-triggered: it fires once per crossing and re-arms only
// after the level has recovered to the threshold or above.
type Monitor struct {
	interval  time.Duration
	threshold float64
	probe     Probe
	log       *slog.Logger
}

// NewMonitor returns a Monitor. A nil probe uses MemoryProbe and a nil log
// uses slog.Default.
func NewMonitor(interval time.Duration, threshold float64, probe Probe, log *slog.Logger) *Monitor {
	if probe == nil {
		probe = MemoryProbe
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		interval:  interval,
		threshold: threshold,
		probe:     probe,
		log:       log.With("component", "resource_monitor"),
	}
}

// Run polls until ctx is done, calling onLow with the level on each downward
// crossing. The first reading is taken immediately.
func (m *Monitor) Run(ctx context.Context, onLow func(level float64)) error {
	if m.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	armed := true
	for {
		level, err := m.probe(ctx)
		switch {
		case err != nil:
			m.log.Warn("resource probe failed", slog.String("error", err.Error()))
		case level < m.threshold && armed:
			armed = false
			m.log.Info("low resource level",
				slog.Float64("level", level),
				slog.Float64("threshold", m.threshold))
			onLow(level)
		case level >= m.threshold && !armed:
			armed = true
			m.log.Debug("resource level recovered", slog.Float64("level", level))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
