// Package sensors polls the range/battery collaborator on its own cadence and
// exposes the latest reading with staleness tracking. A failing reader
// degrades telemetry; it never stops the control loop.
package sensors

import (
	"context"
	"sync"
	"time"

	"inspection-robot/internal/hardware"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// staleAfterPolls marks a reading stale once this many poll intervals pass
// without a successful read.
const staleAfterPolls = 3

type Monitor struct {
	reader   hardware.SensorReader
	interval time.Duration

	mu     sync.RWMutex
	latest models.SensorReadings
}

func NewMonitor(reader hardware.SensorReader, interval time.Duration) *Monitor {
	return &Monitor{
		reader:   reader,
		interval: interval,
		latest: models.SensorReadings{
			// free path until the first real reading lands
			FrontCM: 999, RearCM: 999, LeftCM: 999,
			BatterySOC: 100,
			Stale:      true,
		},
	}
}

// Run polls until the context is cancelled. Meant to be launched as its own
// goroutine by the container.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(time.Now())
		}
	}
}

// Poll performs one read. Exposed for deterministic tests.
func (m *Monitor) Poll(now time.Time) {
	front, rear, left, soc, err := m.reader.Read()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// keep the previous values, flag them once they age out
		if now.Sub(m.latest.ReadAt) > time.Duration(staleAfterPolls)*m.interval {
			m.latest.Stale = true
		}
		utils.Logger.Debugf("sensor read failed: %v", err)
		return
	}

	m.latest = models.SensorReadings{
		FrontCM:    front,
		RearCM:     rear,
		LeftCM:     left,
		BatterySOC: soc,
		Stale:      false,
		ReadAt:     now,
	}
}

// Latest returns a copy of the most recent reading, re-checking age so a
// stalled poll loop also reads as stale.
func (m *Monitor) Latest() models.SensorReadings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := m.latest
	if !r.Stale && time.Since(r.ReadAt) > time.Duration(staleAfterPolls)*m.interval {
		r.Stale = true
	}
	return r
}
