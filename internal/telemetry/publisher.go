// Package telemetry broadcasts the control loop's published snapshot to every
// registered sink on a fixed cadence, independent of command traffic.
package telemetry

import (
	"context"
	"time"

	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// Source is where snapshots come from; satisfied by the control loop.
type Source interface {
	Snapshot() models.TelemetrySnapshot
}

// Sink receives each snapshot. Implementations must not block the publisher;
// slow consumers drop frames on their side.
type Sink interface {
	PublishTelemetry(snap models.TelemetrySnapshot)
}

type Publisher struct {
	source Source
	tick   time.Duration
	sinks  []Sink
}

func NewPublisher(source Source, tick time.Duration, sinks ...Sink) *Publisher {
	return &Publisher{source: source, tick: tick, sinks: sinks}
}

// AddSink registers another consumer. Call before Run.
func (p *Publisher) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Run publishes until the context is cancelled. The cadence holds whether or
// not any operator is connected or commanding.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	utils.Logger.Infof("telemetry publisher started (%s interval, %d sinks)", p.tick, len(p.sinks))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.source.Snapshot()
			for _, s := range p.sinks {
				s.PublishTelemetry(snap)
			}
		}
	}
}
