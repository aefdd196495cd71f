package sensor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"kiln_control/internal/clock"
)

// Simulation defaults.
const (
	DefaultAmbientC       = 25.0    // °C
	DefaultMaxPowerW      = 3000.0  // element rating
	DefaultHeatCapacityJC = 20000.0 // J/°C, chamber + load
	DefaultLossWPerC      = 2.0     // W/°C through the walls
)

// PlantConfig describes the simulated kiln.
type PlantConfig struct {
	AmbientC       float64
	MaxPowerW      float64
	HeatCapacityJC float64
	LossWPerC      float64
	IRBiasC        float64 // simulated IR reads this much above the thermocouple
}

func DefaultPlant() PlantConfig {
	return PlantConfig{
		AmbientC:       DefaultAmbientC,
		MaxPowerW:      DefaultMaxPowerW,
		HeatCapacityJC: DefaultHeatCapacityJC,
		LossWPerC:      DefaultLossWPerC,
	}
}

func (p PlantConfig) Validate() error {
	if p.MaxPowerW <= 0 || p.HeatCapacityJC <= 0 || p.LossWPerC < 0 {
		return errors.New("simulator: max_power_w and heat_capacity must be positive, loss must not be negative")
	}
	return nil
}

// SimulatedKiln is a first-order thermal model of a kiln. It is both the
// heater (Set) and the thermocouple (ReadPrimary), so the whole loop can run
// without hardware. Temperature is advanced on every call from the time the
// heater spent in its current state.
type SimulatedKiln struct {
	mu      sync.Mutex
	cfg     PlantConfig
	clock   clock.Clock
	tempC   float64
	on      bool
	last    time.Time
	failing int
	onTime  time.Duration
}

// NewSimulatedKiln starts at ambient temperature.
func NewSimulatedKiln(cfg PlantConfig, clk clock.Clock) (*SimulatedKiln, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &SimulatedKiln{cfg: cfg, clock: clk, tempC: cfg.AmbientC, last: clk.Now()}, nil
}

// advanceLocked integrates the model up to now.
func (k *SimulatedKiln) advanceLocked(now time.Time) {
	dt := now.Sub(k.last).Seconds()
	if dt <= 0 {
		return
	}
	if k.on {
		k.onTime += now.Sub(k.last)
	}
	k.last = now

	power := 0.0
	if k.on {
		power = k.cfg.MaxPowerW
	}
	if k.cfg.LossWPerC == 0 {
		k.tempC += power * dt / k.cfg.HeatCapacityJC
		return
	}
	// exact solution of C dT/dt = P - L (T - Ta)
	eq := k.cfg.AmbientC + power/k.cfg.LossWPerC
	k.tempC = eq + (k.tempC-eq)*math.Exp(-dt*k.cfg.LossWPerC/k.cfg.HeatCapacityJC)
}

// Set switches the simulated element.
func (k *SimulatedKiln) Set(on bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advanceLocked(k.clock.Now())
	k.on = on
	return nil
}

func (k *SimulatedKiln) ReadPrimary(ctx context.Context) (float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.failing > 0 {
		k.failing--
		return 0, &Error{Source: "simulator", Code: CodeInjected, Err: errors.New("injected read failure")}
	}
	k.advanceLocked(k.clock.Now())
	return k.tempC, nil
}

// ReadSecondary returns the simulated IR reading.
func (k *SimulatedKiln) ReadSecondary(ctx context.Context) (float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advanceLocked(k.clock.Now())
	return k.tempC + k.cfg.IRBiasC, nil
}

// InjectFailures makes the next n primary reads fail.
func (k *SimulatedKiln) InjectFailures(n int) {
	k.mu.Lock()
	k.failing = n
	k.mu.Unlock()
}

// Heating reports the element state.
func (k *SimulatedKiln) Heating() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.on
}

// Temperature returns the model temperature without advancing it.
func (k *SimulatedKiln) Temperature() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tempC
}

// OnTime returns the total time the element was ON.
func (k *SimulatedKiln) OnTime() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.onTime
}

// PowerW is the instantaneous element power, for the simulated power meter.
func (k *SimulatedKiln) PowerW() float64 {
	if k.Heating() {
		return k.cfg.MaxPowerW
	}
	return 0
}
