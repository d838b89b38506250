package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"cloudpico-relay/internal/link"
	"cloudpico-relay/internal/serialport"
)

const (
	DefaultDialTimeout  = 2 * time.Second
	DefaultRedialDelay  = time.Second
	DefaultWriteTimeout = 50 * time.Millisecond
)

// ErrNotConnected is returned by Send while the endpoint is unreachable.
var ErrNotConnected = errors.New("uplink tcp not connected")

// TCP sends uplink bytes over a socket to the collection endpoint. A
// background loop started by Start keeps the connection up; Send never
// dials, so the control loop is not held up by an unreachable endpoint.
type TCP struct {
	addr         string
	dialTimeout  time.Duration
	redialDelay  time.Duration
	writeTimeout time.Duration
	fifo         *link.ByteFIFO
	logger       *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Link = (*TCP)(nil)

func NewTCP(addr string, logger *slog.Logger) *TCP {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCP{
		addr:         addr,
		dialTimeout:  DefaultDialTimeout,
		redialDelay:  DefaultRedialDelay,
		writeTimeout: DefaultWriteTimeout,
		fifo:         link.NewByteFIFO(link.DefaultFIFOSize),
		logger:       logger.With("addr", addr),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the dial loop. It runs until ctx is done or Close.
func (t *TCP) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
}

// Send writes p on the live connection. It fails fast with ErrNotConnected
// while the dial loop has no connection, and a write that misses its
// deadline drops the connection for the loop to redial.
func (t *TCP) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return link.ErrClosed
	}
	if t.conn == nil {
		return ErrNotConnected
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		t.dropLocked()
		return fmt.Errorf("uplink tcp deadline: %w", err)
	}
	if _, err := t.conn.Write(p); err != nil {
		t.dropLocked()
		return fmt.Errorf("uplink tcp write: %w", err)
	}
	return nil
}

func (t *TCP) TryReceiveByte() (byte, bool) {
	return t.fifo.Pop()
}

// Connected reports whether the dial loop holds a live connection.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })

	t.mu.Lock()
	t.closed = true
	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	t.wg.Wait()
	return err
}

// dropLocked closes the current connection; the reader then returns and the
// loop redials. t.mu must be held.
func (t *TCP) dropLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *TCP) run(ctx context.Context) {
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	dialer := net.Dialer{Timeout: t.dialTimeout}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug("uplink tcp: dial failed", "error", err)
		} else if t.attach(conn) {
			t.logger.Info("uplink tcp: connected")
			t.read(ctx, conn)
			t.logger.Info("uplink tcp: disconnected")
		} else {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.redialDelay):
		}
	}
}

// attach publishes conn for Send. It reports false if the link closed while
// dialing.
func (t *TCP) attach(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return false
	}
	t.conn = conn
	return true
}

func (t *TCP) read(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	err := serialport.Pump(ctx, conn, t.fifo, t.logger)
	if err != nil && !errors.Is(err, link.ErrClosed) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
		t.logger.Warn("uplink tcp: reader stopped", "error", err)
	}

	t.mu.Lock()
	if t.conn == conn {
		_ = conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
}
