package sensor

import (
	"context"
	"errors"
)

// ValueReader reads a named, decoded register. *modbus.Client satisfies it.
type ValueReader interface {
	ReadValue(ctx context.Context, name string) (float64, error)
}

// ModbusSource reads temperatures from a Modbus temperature controller.
type ModbusSource struct {
	client    ValueReader
	primary   string
	secondary string
}

// NewModbusSource reads the primary register and, when secondary is not
// empty, an IR register.
func NewModbusSource(client ValueReader, primary, secondary string) (*ModbusSource, error) {
	if client == nil || primary == "" {
		return nil, errors.New("modbus source: client and primary register are required")
	}
	return &ModbusSource{client: client, primary: primary, secondary: secondary}, nil
}

func (m *ModbusSource) ReadPrimary(ctx context.Context) (float64, error) {
	v, err := m.client.ReadValue(ctx, m.primary)
	if err != nil {
		return 0, transportErr("modbus", err)
	}
	return v, nil
}

func (m *ModbusSource) ReadSecondary(ctx context.Context) (float64, error) {
	if m.secondary == "" {
		return 0, ErrNoSecondary
	}
	v, err := m.client.ReadValue(ctx, m.secondary)
	if err != nil {
		return 0, transportErr("modbus", err)
	}
	return v, nil
}
