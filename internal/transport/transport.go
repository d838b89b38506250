// Package transport implements the uplink TransportLink over the carriers
// the gateway supports: a passthrough UART to a modem, a raw TCP socket and
// an MQTT broker. Each fills a byte FIFO from a background reader so the
// relay can sample acknowledgment bytes without blocking.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"cloudpico-relay/internal/link"
	"cloudpico-relay/internal/serialport"
)

// Link is a TransportLink that owns a connection.
type Link interface {
	link.TransportLink
	Close() error
}

// Serial sends uplink bytes through a UART to a modem that forwards them.
type Serial struct {
	port   io.ReadWriteCloser
	fifo   *link.ByteFIFO
	logger *slog.Logger

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Link = (*Serial)(nil)

func NewSerial(port io.ReadWriteCloser, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{
		port:   port,
		fifo:   link.NewByteFIFO(link.DefaultFIFOSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Start launches the receive pump.
func (s *Serial) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := serialport.Pump(ctx, s.port, s.fifo, s.logger)
		if err != nil && !errors.Is(err, link.ErrClosed) && !errors.Is(err, context.Canceled) {
			s.logger.Error("uplink serial: reader stopped", "error", err)
		}
	}()
}

func (s *Serial) Send(p []byte) error {
	select {
	case <-s.closed:
		return link.ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("uplink serial write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

func (s *Serial) TryReceiveByte() (byte, bool) {
	return s.fifo.Pop()
}

func (s *Serial) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}
