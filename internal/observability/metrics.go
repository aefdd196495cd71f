package observability

import (
	"context"
	"fmt"
	"net/http"

	"kiln_control/internal/firing"
	"kiln_control/internal/sensor"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// KilnCollector bundles the Prometheus metrics of the regulation loop, the
// firing engine, the power meter and the controller host.
type KilnCollector struct {
	gatherer prometheus.Gatherer

	Temperature    prometheus.Gauge
	Thermocouple   prometheus.Gauge
	Setpoint       prometheus.Gauge
	PIDOutput      prometheus.Gauge
	Duty           prometheus.Gauge
	Running        prometheus.Gauge
	SensorFailures prometheus.Gauge
	Progress       prometheus.Gauge
	Events         *prometheus.CounterVec

	FiringCycles prometheus.Gauge
	FiringOnTime prometheus.Gauge
	FiringStale  prometheus.Gauge

	PowerWatts  prometheus.Gauge
	VoltageV    prometheus.Gauge
	CurrentA    prometheus.Gauge
	EnergyWh    prometheus.Gauge
	PowerFactor prometheus.Gauge

	HostCPU      prometheus.Gauge
	HostMemory   prometheus.Gauge
	HostDiskFree prometheus.Gauge
}

type gaugeDef struct {
	dst  *prometheus.Gauge
	name string
	help string
}

// NewKilnCollector registers the metrics against reg, defaulting to the
// global registry when nil. Registering twice returns the existing collectors.
func NewKilnCollector(reg prometheus.Registerer) (*KilnCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &KilnCollector{gatherer: gatherer}
	defs := []gaugeDef{
		{&c.Temperature, "kiln_temperature_celsius", "Fused temperature estimate."},
		{&c.Thermocouple, "kiln_thermocouple_celsius", "Last valid primary sensor reading."},
		{&c.Setpoint, "kiln_setpoint_celsius", "Schedule setpoint for the elapsed time."},
		{&c.PIDOutput, "kiln_pid_output", "Last PID output in power units."},
		{&c.Duty, "kiln_duty_ratio", "Duty published to the firing engine, 0..1."},
		{&c.Running, "kiln_session_active", "1 while a firing session is in progress."},
		{&c.SensorFailures, "kiln_sensor_consecutive_failures", "Consecutive failed primary reads."},
		{&c.Progress, "kiln_schedule_progress_ratio", "Elapsed share of the firing curve."},
		{&c.FiringCycles, "kiln_firing_cycles", "Firing cycles completed since start."},
		{&c.FiringOnTime, "kiln_firing_on_seconds", "Total time the actuator was commanded ON."},
		{&c.FiringStale, "kiln_firing_command_stale", "1 when the firing engine runs on a stale duty."},
		{&c.PowerWatts, "kiln_power_watts", "Active power measured by the power meter."},
		{&c.VoltageV, "kiln_supply_voltage_volts", "Supply voltage measured by the power meter."},
		{&c.CurrentA, "kiln_current_amperes", "Element current measured by the power meter."},
		{&c.EnergyWh, "kiln_energy_watt_hours", "Energy counter of the power meter."},
		{&c.PowerFactor, "kiln_power_factor", "Power factor measured by the power meter."},
		{&c.HostCPU, "kiln_host_cpu_percent", "System CPU utilisation of the controller host."},
		{&c.HostMemory, "kiln_host_memory_used_percent", "Memory utilisation of the controller host."},
		{&c.HostDiskFree, "kiln_host_disk_free_bytes", "Free bytes on the database volume."},
	}
	for _, d := range defs {
		g, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: d.name, Help: d.help}), d.name)
		if err != nil {
			return nil, err
		}
		*d.dst = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiln_events_total",
		Help: "Regulation events, labeled by type.",
	}, []string{"type"}), "kiln_events_total")
	if err != nil {
		return nil, err
	}
	c.Events = events
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *KilnCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *KilnCollector) ObserveSnapshot(s supervisor.Snapshot) {
	if c == nil {
		return
	}
	c.Temperature.Set(s.Estimate)
	if s.HasPrimary {
		c.Thermocouple.Set(s.Primary)
	}
	c.Setpoint.Set(s.Setpoint)
	c.PIDOutput.Set(s.PIDOutput)
	c.Duty.Set(s.Duty)
	c.Running.Set(boolGauge(s.Active()))
	c.SensorFailures.Set(float64(s.SensorFailures))
	c.Progress.Set(s.Progress)
}

func (c *KilnCollector) ObserveFiring(st firing.Stats) {
	if c == nil {
		return
	}
	c.FiringCycles.Set(float64(st.Cycles))
	c.FiringOnTime.Set(st.OnTime.Seconds())
	c.FiringStale.Set(boolGauge(st.Stale))
}

func (c *KilnCollector) ObservePower(r sensor.PowerReading) {
	if c == nil {
		return
	}
	c.PowerWatts.Set(r.PowerW)
	c.VoltageV.Set(r.VoltageV)
	c.CurrentA.Set(r.CurrentA)
	c.EnergyWh.Set(r.EnergyWh)
	c.PowerFactor.Set(r.PowerFactor)
}

func (c *KilnCollector) ObserveHost(h HostStats) {
	if c == nil {
		return
	}
	c.HostCPU.Set(h.CPUPercent)
	c.HostMemory.Set(h.MemoryUsedPercent)
	c.HostDiskFree.Set(float64(h.DiskFreeBytes))
}

func (c *KilnCollector) CountEvent(eventType string) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(eventType).Inc()
}

// Feed updates the collector from bus traffic until ctx ends. Firing stats
// are sampled with every state snapshot when stats is not nil.
func (c *KilnCollector) Feed(ctx context.Context, bus *telemetry.Bus, stats func() firing.Stats) {
	states, unsubState := bus.Subscribe(ctx, telemetry.TopicState, true)
	defer unsubState()
	events, unsubEvents := bus.SubscribeQueue(ctx, telemetry.TopicEvent, 32)
	defer unsubEvents()
	power, unsubPower := bus.Subscribe(ctx, telemetry.TopicPower, true)
	defer unsubPower()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-states:
			if !ok {
				return
			}
			if s, ok := ev.(supervisor.Snapshot); ok {
				c.ObserveSnapshot(s)
			}
			if stats != nil {
				c.ObserveFiring(stats())
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if e, ok := ev.(supervisor.Event); ok {
				c.CountEvent(e.Type)
			}
		case ev, ok := <-power:
			if !ok {
				return
			}
			if r, ok := ev.(sensor.PowerReading); ok {
				c.ObservePower(r)
			}
		}
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
