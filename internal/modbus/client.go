package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"kiln_control/internal/logger"

	wrapper "github.com/grid-x/modbus"
)

// Transports.
const (
	TCP = "tcp"
	RTU = "rtu"
)

// Config selects the link to the device.
type Config struct {
	Transport string        // tcp or rtu
	Address   string        // host:port for tcp, serial device for rtu
	BaudRate  int           // rtu only
	DataBits  int           // rtu only
	Parity    string        // N, E or O; rtu only
	StopBits  int           // rtu only
	SlaveID   byte
	Timeout   time.Duration
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("modbus: address is required")
	}
	switch c.Transport {
	case TCP:
	case RTU:
		if c.BaudRate <= 0 {
			return errors.New("modbus: baud_rate must be positive for rtu")
		}
	default:
		return fmt.Errorf("modbus: unknown transport %q", c.Transport)
	}
	return nil
}

// Bus is the subset of the grid-x client used here.
type Bus interface {
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
}

// Dialer opens a link and returns the bus plus whatever must be closed.
type Dialer func(ctx context.Context) (Bus, io.Closer, error)

// Client serialises register reads on one link and reconnects once on a
// connection error. It never blocks longer than the caller's context.
type Client struct {
	mu     sync.Mutex
	dial   Dialer
	bus    Bus
	closer io.Closer
	regs   map[string]RegisterDef
	log    *logger.Logger
	name   string
}

// NewClient returns a client that connects lazily on the first read.
func NewClient(cfg Config, regs *RegisterMap, log *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewClientWithDialer(cfg.Transport+"://"+cfg.Address, dialerFor(cfg), regs, log), nil
}

// NewClientWithDialer builds a client on a custom link.
func NewClientWithDialer(name string, dial Dialer, regs *RegisterMap, log *logger.Logger) *Client {
	c := &Client{dial: dial, log: logger.OrNop(log), name: name}
	if regs != nil {
		c.regs = regs.Registers
	}
	return c
}

func dialerFor(cfg Config) Dialer {
	if cfg.Transport == RTU {
		return func(ctx context.Context) (Bus, io.Closer, error) {
			h := wrapper.NewRTUClientHandler(cfg.Address)
			h.BaudRate = cfg.BaudRate
			h.DataBits = cfg.DataBits
			h.Parity = cfg.Parity
			h.StopBits = cfg.StopBits
			h.SlaveID = cfg.SlaveID
			h.Timeout = cfg.Timeout
			// the serial port is opened on first send
			return wrapper.NewClient(h), h, nil
		}
	}
	return func(ctx context.Context) (Bus, io.Closer, error) {
		h := wrapper.NewTCPClientHandler(cfg.Address)
		h.SlaveID = cfg.SlaveID
		h.Timeout = cfg.Timeout
		h.ProtocolRecoveryTimeout = 250 * time.Millisecond
		h.LinkRecoveryTimeout = 5 * time.Second
		if err := h.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("modbus connect failed: %w", err)
		}
		return wrapper.NewClient(h), h, nil
	}
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.bus != nil {
		return nil
	}
	bus, closer, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.bus, c.closer = bus, closer
	c.log.Infow("modbus_connected", "link", c.name)
	return nil
}

func (c *Client) dropLocked() {
	if c.closer != nil {
		_ = c.closer.Close()
	}
	c.bus, c.closer = nil, nil
}

// ReadRegisters reads quantity words from the holding or input table.
func (c *Client) ReadRegisters(ctx context.Context, table string, address, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = c.connectLocked(ctx); err != nil {
			c.log.Warnw("modbus_connect_failed", "link", c.name, "err", err)
			return nil, err
		}
		var data []byte
		if table == Input {
			data, err = c.bus.ReadInputRegisters(ctx, address, quantity)
		} else {
			data, err = c.bus.ReadHoldingRegisters(ctx, address, quantity)
		}
		if err == nil {
			return data, nil
		}
		if !isConnError(err) || ctx.Err() != nil {
			return nil, err
		}
		c.log.Warnw("modbus_link_error", "link", c.name, "err", err, "attempt", attempt+1)
		c.dropLocked()
	}
	return nil, err
}

// ReadInputRegisters reads from the input table.
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	return c.ReadRegisters(ctx, Input, address, quantity)
}

// ReadValue reads and decodes a register by its configured name.
func (c *Client) ReadValue(ctx context.Context, name string) (float64, error) {
	def, ok := c.regs[name]
	if !ok {
		return 0, fmt.Errorf("register %q not configured", name)
	}
	raw, err := c.ReadRegisters(ctx, def.Type, def.Address, wordCount(def.DataType))
	if err != nil {
		return 0, fmt.Errorf("register read failed for %s: %w", name, err)
	}
	return Decode(def, raw)
}

// ReadTyped reads a named register and converts it to T.
func ReadTyped[T float64 | int | bool](ctx context.Context, c *Client, name string) (T, error) {
	var zero T
	v, err := c.ReadValue(ctx, name)
	if err != nil {
		return zero, err
	}
	switch any(zero).(type) {
	case float64:
		return any(v).(T), nil
	case int:
		return any(int(v)).(T), nil
	case bool:
		return any(v != 0).(T), nil
	}
	return zero, fmt.Errorf("unsupported type %T", zero)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused")
}
