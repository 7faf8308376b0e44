package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"inspection-robot/internal/models"
)

type staticSource struct{ snap models.TelemetrySnapshot }

func (s staticSource) Snapshot() models.TelemetrySnapshot { return s.snap }

type countingSink struct {
	mu    sync.Mutex
	count int
	last  models.TelemetrySnapshot
}

func (c *countingSink) PublishTelemetry(snap models.TelemetrySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.last = snap
}

func (c *countingSink) snapshot() (int, models.TelemetrySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.last
}

func TestPublisherFansOutOnCadence(t *testing.T) {
	src := staticSource{snap: models.TelemetrySnapshot{Mode: models.ModeManual}}
	a, b := &countingSink{}, &countingSink{}

	p := NewPublisher(src, 10*time.Millisecond, a)
	p.AddSink(b)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()

	for _, sink := range []*countingSink{a, b} {
		n, last := sink.snapshot()
		if n < 5 {
			t.Fatalf("sink should have seen several frames in 100ms, got %d", n)
		}
		if last.Mode != models.ModeManual {
			t.Fatalf("sink got the wrong snapshot: %+v", last)
		}
	}
}
