package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"cloudpico-relay/internal/link"
)

// DefaultReadTimeout bounds each blocking read so reader goroutines notice
// shutdown and idle gaps.
const DefaultReadTimeout = 10 * time.Millisecond

// Port is the minimal surface of an open UART. A Read that times out
// returns 0, nil.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Opener opens the port at path. Tests swap it for an in-memory port.
type Opener func(path string, opts PortOptions) (Port, error)

// Open opens a real serial device and sets its read timeout.
func Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// Pump copies bytes from r into fifo until ctx is done or r fails. It plays
// the part of a UART receive interrupt feeding a software FIFO.
func Pump(ctx context.Context, r io.Reader, fifo *link.ByteFIFO, logger *slog.Logger) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if w := fifo.Write(buf[:n]); w < n {
				logger.Warn("rx fifo overrun", "dropped", n-w)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return link.ErrClosed
			}
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return link.ErrClosed
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}
