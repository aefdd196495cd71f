package service

import (
	"context"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/logger"
	"kiln_control/internal/sensor"
	"kiln_control/internal/telemetry"
)

// PowerReader is a power meter. *sensor.PowerMeter and *sensor.SimulatedMeter
// satisfy it.
type PowerReader interface {
	Read(ctx context.Context) (sensor.PowerReading, error)
}

// PowerMonitor polls the power meter and publishes readings on the bus.
type PowerMonitor struct {
	meter    PowerReader
	bus      *telemetry.Bus
	interval time.Duration
	clock    clock.Clock
	log      *logger.Logger
}

func NewPowerMonitor(meter PowerReader, bus *telemetry.Bus, interval time.Duration, clk clock.Clock, log *logger.Logger) *PowerMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &PowerMonitor{meter: meter, bus: bus, interval: interval, clock: clk, log: logger.OrNop(log)}
}

// Run polls until ctx is cancelled. Only the first failure of a run of
// failures is logged.
func (m *PowerMonitor) Run(ctx context.Context) {
	failing := false
	for {
		r, err := m.meter.Read(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			if !failing {
				m.log.Warnw("power_meter_read_failed", "err", err)
			}
			failing = true
		case err == nil:
			if failing {
				m.log.Infow("power_meter_recovered")
			}
			failing = false
			m.bus.Publish(telemetry.TopicPower, r)
		}

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.interval):
		}
	}
}

// Last returns the most recent published reading.
func (m *PowerMonitor) Last() (sensor.PowerReading, bool) {
	ev, ok := m.bus.Last(telemetry.TopicPower)
	if !ok {
		return sensor.PowerReading{}, false
	}
	r, ok := ev.(sensor.PowerReading)
	return r, ok
}
