package gpio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"kiln_control/internal/firing"

	"golang.org/x/sys/unix"
)

// DefaultRoot is the sysfs GPIO class directory.
const DefaultRoot = "/sys/class/gpio"

func export(root string, pin int) (string, error) {
	dir := filepath.Join(root, "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(pin)), 0o644); err != nil && !errors.Is(err, unix.EBUSY) {
		return "", fmt.Errorf("export gpio %d: %w", pin, err)
	}
	return dir, nil
}

func writeAttr(dir, name, value string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644); err != nil {
		return fmt.Errorf("gpio %s=%s: %w", name, value, err)
	}
	return nil
}

// Output drives an SSR from a sysfs GPIO line. It implements firing.Actuator.
type Output struct {
	mu        sync.Mutex
	pin       int
	activeLow bool
	value     *os.File
}

// OpenOutput exports pin, sets it as an output driven low and keeps the
// value file open for fast writes.
func OpenOutput(root string, pin int, activeLow bool) (*Output, error) {
	if root == "" {
		root = DefaultRoot
	}
	dir, err := export(root, pin)
	if err != nil {
		return nil, err
	}
	// "low" sets the direction and the initial level atomically
	if err := writeAttr(dir, "direction", "low"); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "value"), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open gpio %d value: %w", pin, err)
	}
	o := &Output{pin: pin, activeLow: activeLow, value: f}
	if err := o.Set(false); err != nil {
		_ = f.Close()
		return nil, err
	}
	return o, nil
}

func (o *Output) Set(on bool) error {
	level := on != o.activeLow
	b := []byte("0")
	if level {
		b = []byte("1")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.value == nil {
		return fmt.Errorf("gpio %d: closed", o.pin)
	}
	if _, err := o.value.WriteAt(b, 0); err != nil {
		return fmt.Errorf("gpio %d write: %w", o.pin, err)
	}
	return nil
}

// Close releases the value file. It does not change the line level.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.value == nil {
		return nil
	}
	err := o.value.Close()
	o.value = nil
	return err
}

// EdgeInput waits for falling edges on a zero-cross detector line. It
// implements firing.ZeroCrossSignal.
type EdgeInput struct {
	pin     int
	value   *os.File
	timeout time.Duration
	slice   time.Duration
}

// OpenEdgeInput configures pin as an input interrupting on falling edges.
// WaitForEdge returns firing.ErrNoEdge when no edge arrives within timeout.
func OpenEdgeInput(root string, pin int, timeout time.Duration) (*EdgeInput, error) {
	if root == "" {
		root = DefaultRoot
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	dir, err := export(root, pin)
	if err != nil {
		return nil, err
	}
	if err := writeAttr(dir, "direction", "in"); err != nil {
		return nil, err
	}
	if err := writeAttr(dir, "edge", "falling"); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		return nil, fmt.Errorf("open gpio %d value: %w", pin, err)
	}
	in := &EdgeInput{pin: pin, value: f, timeout: timeout, slice: 20 * time.Millisecond}
	// clear the pending interrupt from opening
	in.drain()
	return in, nil
}

func (e *EdgeInput) drain() {
	var buf [8]byte
	_, _ = e.value.ReadAt(buf[:], 0)
}

func (e *EdgeInput) WaitForEdge(ctx context.Context) (time.Time, error) {
	deadline := time.Now().Add(e.timeout)
	fds := []unix.PollFd{{Fd: int32(e.value.Fd()), Events: unix.POLLPRI | unix.POLLERR}}

	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return time.Time{}, firing.ErrNoEdge
		}
		if wait > e.slice {
			wait = e.slice
		}
		n, err := unix.Poll(fds, int(wait/time.Millisecond)+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return time.Time{}, fmt.Errorf("poll gpio %d: %w", e.pin, err)
		}
		if n > 0 && fds[0].Revents&unix.POLLPRI != 0 {
			at := time.Now()
			e.drain()
			return at, nil
		}
	}
}

func (e *EdgeInput) Close() error { return e.value.Close() }
