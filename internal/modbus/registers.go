package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Register tables.
const (
	Holding = "holding"
	Input   = "input"
)

// RegisterDef describes one named value on the device.
type RegisterDef struct {
	Address     uint16  `yaml:"address"`
	Type        string  `yaml:"type"`      // holding (default) or input
	DataType    string  `yaml:"data_type"` // uint16, int16, uint32, int32, float32, bool
	WordOrder   string  `yaml:"word_order,omitempty"`
	Scale       float64 `yaml:"scale"`
	Offset      float64 `yaml:"offset"`
	Description string  `yaml:"description"`
}

// RegisterMap is the YAML register file.
type RegisterMap struct {
	Registers map[string]RegisterDef `yaml:"registers"`
}

// LoadRegisterMap reads and validates a YAML register map.
func LoadRegisterMap(path string) (*RegisterMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read register map: %w", err)
	}
	return ParseRegisterMap(data)
}

func ParseRegisterMap(data []byte) (*RegisterMap, error) {
	var m RegisterMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse register map: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *RegisterMap) Validate() error {
	if len(m.Registers) == 0 {
		return errors.New("register map has no registers")
	}
	for name, def := range m.Registers {
		if def.Type != "" && def.Type != Holding && def.Type != Input {
			return fmt.Errorf("register %q: unknown type %q", name, def.Type)
		}
		if wordCount(def.DataType) == 0 {
			return fmt.Errorf("register %q: unsupported data type %q", name, def.DataType)
		}
		if def.WordOrder != "" && def.WordOrder != "high_first" && def.WordOrder != "low_first" {
			return fmt.Errorf("register %q: word_order must be high_first or low_first", name)
		}
	}
	return nil
}

func wordCount(dataType string) uint16 {
	switch dataType {
	case "uint16", "int16", "bool":
		return 1
	case "uint32", "int32", "float32":
		return 2
	}
	return 0
}

// Decode converts raw register bytes (big-endian words) to a scaled value.
// Scale 0 means unscaled.
func Decode(def RegisterDef, raw []byte) (float64, error) {
	n := wordCount(def.DataType)
	if n == 0 {
		return 0, fmt.Errorf("unsupported data type %q", def.DataType)
	}
	if len(raw) < int(n)*2 {
		return 0, fmt.Errorf("short response: %d bytes for %s", len(raw), def.DataType)
	}

	var v float64
	switch def.DataType {
	case "uint16":
		v = float64(binary.BigEndian.Uint16(raw))
	case "int16":
		v = float64(int16(binary.BigEndian.Uint16(raw)))
	case "bool":
		if binary.BigEndian.Uint16(raw) != 0 {
			return 1, nil
		}
		return 0, nil
	case "uint32":
		v = float64(Uint32(raw, def.WordOrder == "low_first"))
	case "int32":
		v = float64(int32(Uint32(raw, def.WordOrder == "low_first")))
	case "float32":
		v = float64(math.Float32frombits(Uint32(raw, def.WordOrder == "low_first")))
	}

	if def.Scale != 0 {
		v = v*def.Scale + def.Offset
	}
	return v, nil
}

// Uint32 joins two big-endian registers. lowFirst selects the word order
// used by meters that send the low word first.
func Uint32(raw []byte, lowFirst bool) uint32 {
	hi := uint32(binary.BigEndian.Uint16(raw[0:2]))
	lo := uint32(binary.BigEndian.Uint16(raw[2:4]))
	if lowFirst {
		hi, lo = lo, hi
	}
	return hi<<16 | lo
}
