package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"kiln_control/internal/clock"
)

// PowerReading is one PZEM-004T measurement.
type PowerReading struct {
	VoltageV    float64   `json:"voltage_v"`
	CurrentA    float64   `json:"current_a"`
	PowerW      float64   `json:"power_w"`
	EnergyWh    float64   `json:"energy_wh"`
	FrequencyHz float64   `json:"frequency_hz"`
	PowerFactor float64   `json:"power_factor"`
	Alarm       bool      `json:"alarm"`
	At          time.Time `json:"at"`
}

// InputReader reads input registers. *modbus.Client satisfies it.
type InputReader interface {
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
}

const pzemRegisters = 10

// DecodePZEM decodes input registers 0x0000..0x0009. 32-bit values are sent
// low word first.
func DecodePZEM(raw []byte) (PowerReading, error) {
	if len(raw) < pzemRegisters*2 {
		return PowerReading{}, fmt.Errorf("pzem: short response (%d bytes)", len(raw))
	}
	word := func(i int) uint32 { return uint32(binary.BigEndian.Uint16(raw[i*2:])) }
	dword := func(i int) uint32 { return word(i+1)<<16 | word(i) }

	return PowerReading{
		VoltageV:    float64(word(0)) / 10,
		CurrentA:    float64(dword(1)) / 1000,
		PowerW:      float64(dword(3)) / 10,
		EnergyWh:    float64(dword(5)),
		FrequencyHz: float64(word(7)) / 10,
		PowerFactor: float64(word(8)) / 100,
		Alarm:       word(9) == 0xFFFF,
	}, nil
}

// PowerMeter polls a PZEM-004T energy meter over Modbus RTU.
type PowerMeter struct {
	bus   InputReader
	clock clock.Clock
}

func NewPowerMeter(bus InputReader, clk clock.Clock) (*PowerMeter, error) {
	if bus == nil {
		return nil, errors.New("power meter: modbus client is required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &PowerMeter{bus: bus, clock: clk}, nil
}

func (m *PowerMeter) Read(ctx context.Context) (PowerReading, error) {
	raw, err := m.bus.ReadInputRegisters(ctx, 0, pzemRegisters)
	if err != nil {
		return PowerReading{}, transportErr("pzem", err)
	}
	r, err := DecodePZEM(raw)
	if err != nil {
		return PowerReading{}, transportErr("pzem", err)
	}
	r.At = m.clock.Now().UTC()
	return r, nil
}

// SimulatedMeter reports the simulated kiln's element power at a fixed voltage.
type SimulatedMeter struct {
	Kiln     *SimulatedKiln
	VoltageV float64
	clock    clock.Clock
	energyWh float64
	last     time.Time
}

func NewSimulatedMeter(k *SimulatedKiln, voltage float64, clk clock.Clock) *SimulatedMeter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SimulatedMeter{Kiln: k, VoltageV: voltage, clock: clk}
}

func (m *SimulatedMeter) Read(ctx context.Context) (PowerReading, error) {
	now := m.clock.Now()
	p := m.Kiln.PowerW()
	if !m.last.IsZero() {
		m.energyWh += p * now.Sub(m.last).Hours()
	}
	m.last = now
	r := PowerReading{
		VoltageV:    m.VoltageV,
		PowerW:      p,
		EnergyWh:    m.energyWh,
		FrequencyHz: 50,
		PowerFactor: 1,
		At:          now.UTC(),
	}
	if m.VoltageV > 0 {
		r.CurrentA = p / m.VoltageV
	}
	return r, nil
}
