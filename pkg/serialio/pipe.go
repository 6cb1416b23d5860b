package serialio

import (
	"io"
	"time"
)

// PipePort is an in-memory Port backed by an io.ReadWriteCloser, used by
// tests for the XMODEM/YMODEM engine and the console reader so they don't
// need a real serial device.
type PipePort struct {
	io.ReadWriteCloser
}

// NewPipePort wraps rwc as a Port.
func NewPipePort(rwc io.ReadWriteCloser) *PipePort {
	return &PipePort{ReadWriteCloser: rwc}
}

func (p *PipePort) ReadRaw(buf []byte) (int, error) {
	return p.Read(buf)
}

// ReadRawWithTimeout ignores the timeout - an in-memory pipe has no
// notion of a read deadline - and simply reads.
func (p *PipePort) ReadRawWithTimeout(buf []byte, _ time.Duration) (int, error) {
	return p.Read(buf)
}

func (p *PipePort) WriteRaw(data []byte) (int, error) {
	return p.Write(data)
}
