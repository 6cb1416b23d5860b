// Package serialio is the capability layer the boot-monitor console and
// the XMODEM/YMODEM engine sit on top of. On the host build it is backed
// by go.bug.st/serial; the connect-with-retry shape mirrors
// hardware/topgnss/top708's TOP708Device.Connect.
package serialio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Port is the narrow interface every core component programs against, so
// tests can substitute an in-memory pipe instead of a real device.
type Port interface {
	ReadRaw(buf []byte) (int, error)
	ReadRawWithTimeout(buf []byte, timeout time.Duration) (int, error)
	WriteRaw(data []byte) (int, error)
	Close() error
}

// Console is a serial-backed Port with the connect/disconnect/retry
// lifecycle the console UART and XMODEM transport share.
type Console struct {
	mu         sync.Mutex
	port       serial.Port
	portName   string
	baudRate   int
	connected  bool
	retryCount int
	retryDelay time.Duration
	logger     logrus.FieldLogger
}

// NewConsole returns an unconnected Console; call Connect before use.
func NewConsole(logger logrus.FieldLogger) *Console {
	return &Console{
		retryCount: 3,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

// Connect opens portName at baudRate, retrying up to c.retryCount times
// with c.retryDelay between attempts.
func (c *Console) Connect(portName string, baudRate int) error {
	return c.ConnectWithContext(context.Background(), portName, baudRate)
}

// ConnectWithContext is Connect, but the retry loop aborts early if ctx
// is cancelled, the same cancellation shape TOP708Device.Connect uses.
func (c *Console) ConnectWithContext(ctx context.Context, portName string, baudRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("serialio: connect cancelled: %w", ctx.Err())
		default:
		}

		p, err := serial.Open(portName, mode)
		if err == nil {
			c.port = p
			c.portName = portName
			c.baudRate = baudRate
			c.connected = true
			return nil
		}
		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt).Warn("serialio: connect attempt failed")

		if attempt < c.retryCount {
			select {
			case <-ctx.Done():
				return fmt.Errorf("serialio: connect cancelled: %w", ctx.Err())
			case <-time.After(c.retryDelay):
			}
		}
	}
	return fmt.Errorf("serialio: failed to open %s after %d attempts: %w", portName, c.retryCount+1, lastErr)
}

// Disconnect closes the underlying port.
func (c *Console) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	err := c.port.Close()
	c.connected = false
	return err
}

// IsConnected reports whether Connect has succeeded and Disconnect/Close
// has not since been called.
func (c *Console) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReadRaw reads whatever is immediately available, blocking per the
// underlying port's read timeout.
func (c *Console) ReadRaw(buf []byte) (int, error) {
	c.mu.Lock()
	p := c.port
	c.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("serialio: not connected")
	}
	return p.Read(buf)
}

// ReadRawWithTimeout reads with a caller-specified read deadline,
// matching TOP708Device.ReadRawWithTimeout's per-call timeout override.
func (c *Console) ReadRawWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	p := c.port
	c.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("serialio: not connected")
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		return 0, fmt.Errorf("serialio: set read timeout: %w", err)
	}
	return p.Read(buf)
}

// WriteRaw writes data to the port.
func (c *Console) WriteRaw(data []byte) (int, error) {
	c.mu.Lock()
	p := c.port
	c.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("serialio: not connected")
	}
	return p.Write(data)
}

// Close is an alias for Disconnect so Console satisfies Port.
func (c *Console) Close() error { return c.Disconnect() }

// ChangeBaudRate reconfigures the open port's baud rate in place.
func (c *Console) ChangeBaudRate(baudRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return fmt.Errorf("serialio: not connected")
	}
	mode := &serial.Mode{BaudRate: baudRate, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity}
	if err := c.port.SetMode(mode); err != nil {
		return fmt.Errorf("serialio: change baud rate: %w", err)
	}
	c.baudRate = baudRate
	return nil
}

// AvailablePorts lists host serial devices.
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialio: list ports: %w", err)
	}
	return ports, nil
}
