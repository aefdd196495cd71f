package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Reading is one decoded MAX31855 frame.
type Reading struct {
	ThermocoupleC float64
	InternalC     float64
}

// DecodeMAX31855 decodes the 32-bit frame of a MAX31855 thermocouple
// converter:
//
//	D31..D18  thermocouple, signed 14 bit, 0.25 °C
//	D16       fault
//	D15..D4   reference junction, signed 12 bit, 0.0625 °C
//	D2..D0    SCV, SCG, OC
func DecodeMAX31855(frame [4]byte) (Reading, error) {
	raw := binary.BigEndian.Uint32(frame[:])

	if raw&(1<<16) != 0 {
		code := "FAULT"
		switch {
		case raw&0x01 != 0:
			code = CodeOpenCircuit
		case raw&0x02 != 0:
			code = CodeShortGND
		case raw&0x04 != 0:
			code = CodeShortVCC
		}
		return Reading{}, &Error{Source: "max31855", Code: code}
	}

	tc := signExtend((raw>>18)&0x3FFF, 14)
	internal := signExtend((raw>>4)&0x0FFF, 12)
	return Reading{
		ThermocoupleC: float64(tc) * 0.25,
		InternalC:     float64(internal) * 0.0625,
	}, nil
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// SPIThermocouple reads a MAX31855 through a spidev character device. A read
// of 4 bytes clocks out one frame.
type SPIThermocouple struct {
	mu  sync.Mutex
	dev io.Reader
}

// NewSPIThermocouple reads frames from dev. The caller owns dev.
func NewSPIThermocouple(dev io.Reader) *SPIThermocouple {
	return &SPIThermocouple{dev: dev}
}

// OpenSPI opens a spidev node such as /dev/spidev0.0 read-only.
func OpenSPI(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open spi device: %w", err)
	}
	return f, nil
}

func (s *SPIThermocouple) ReadFrame(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, transportErr("max31855", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var frame [4]byte
	if _, err := io.ReadFull(s.dev, frame[:]); err != nil {
		return Reading{}, transportErr("max31855", err)
	}
	return DecodeMAX31855(frame)
}

// ReadPrimary returns the thermocouple temperature.
func (s *SPIThermocouple) ReadPrimary(ctx context.Context) (float64, error) {
	r, err := s.ReadFrame(ctx)
	if err != nil {
		return 0, err
	}
	return r.ThermocoupleC, nil
}
