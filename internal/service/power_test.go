package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/sensor"
	"kiln_control/internal/telemetry"
)

type scriptedMeter struct {
	mu    sync.Mutex
	reads int
	fail  map[int]bool
}

func (m *scriptedMeter) Read(ctx context.Context) (sensor.PowerReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.fail[m.reads] {
		return sensor.PowerReading{}, errors.New("modbus timeout")
	}
	return sensor.PowerReading{PowerW: float64(m.reads * 100)}, nil
}

func (m *scriptedMeter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func TestPowerMonitor_PublishesReadings(t *testing.T) {
	t.Parallel()

	bus := telemetry.NewBus(nil)
	meter := &scriptedMeter{fail: map[int]bool{2: true}}
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mon := NewPowerMonitor(meter, bus, time.Second, clk, nil)

	if _, ok := mon.Last(); ok {
		t.Fatalf("no reading expected before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	waitFor(t, "three polls", func() bool { return meter.count() >= 3 })
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	r, ok := mon.Last()
	if !ok {
		t.Fatalf("expected a published reading")
	}
	if r.PowerW < 300 {
		t.Fatalf("last reading = %v, expected one from after the failed poll", r.PowerW)
	}
}
