// Package radio implements the sensor-side RadioLink over a UART-attached
// transceiver. Inbound frames are delimited by line idle time.
package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"cloudpico-relay/internal/link"
	"cloudpico-relay/internal/utils"
)

const (
	DefaultFrameGap   = 20 * time.Millisecond
	DefaultQueueDepth = 8
	MaxFrameLen       = 64
)

type Options struct {
	FrameGap   time.Duration
	QueueDepth int
	Logger     *slog.Logger
}

// Radio is a RadioLink over a byte stream. A background reader assembles
// frames and queues them; the control loop only samples the queue.
type Radio struct {
	port   io.ReadWriteCloser
	gap    time.Duration
	logger *slog.Logger
	frames chan []byte

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

var _ link.RadioLink = (*Radio)(nil)

func New(port io.ReadWriteCloser, opts Options) *Radio {
	if opts.FrameGap <= 0 {
		opts.FrameGap = DefaultFrameGap
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Radio{
		port:   port,
		gap:    opts.FrameGap,
		logger: opts.Logger,
		frames: make(chan []byte, opts.QueueDepth),
		closed: make(chan struct{}),
	}
}

// Start launches the reader. It stops when ctx is done, the port fails or
// Close is called.
func (r *Radio) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.readLoop(ctx); err != nil && !errors.Is(err, link.ErrClosed) && !errors.Is(err, context.Canceled) {
			r.logger.Error("radio: reader stopped", "error", err)
		}
	}()
}

// Send writes a whole frame to the transceiver.
func (r *Radio) Send(frame []byte) error {
	select {
	case <-r.closed:
		return link.ErrClosed
	default:
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	for len(frame) > 0 {
		n, err := r.port.Write(frame)
		if err != nil {
			return fmt.Errorf("radio write: %w", err)
		}
		frame = frame[n:]
	}
	return nil
}

// TryReceiveFrame copies the oldest queued frame into buf. Bytes beyond
// len(buf) are lost.
func (r *Radio) TryReceiveFrame(buf []byte) int {
	select {
	case f := <-r.frames:
		return copy(buf, f)
	default:
		return 0
	}
}

// Dropped returns how many frames were discarded because the queue was full.
func (r *Radio) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops the reader and closes the port.
func (r *Radio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.port.Close()
		r.wg.Wait()
	})
	return err
}

func (r *Radio) readLoop(ctx context.Context) error {
	buf := make([]byte, MaxFrameLen)
	var pending []byte
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.closed:
			return link.ErrClosed
		default:
		}

		n, err := r.port.Read(buf)
		now := time.Now()
		if len(pending) > 0 && now.Sub(last) >= r.gap {
			r.emit(pending)
			pending = nil
		}
		if n > 0 {
			pending = append(pending, buf[:n]...)
			last = now
			if len(pending) >= MaxFrameLen {
				r.emit(pending)
				pending = nil
			}
		}
		if err != nil {
			if len(pending) > 0 {
				r.emit(pending)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return link.ErrClosed
			}
			select {
			case <-r.closed:
				return link.ErrClosed
			default:
			}
			return fmt.Errorf("radio read: %w", err)
		}
	}
}

func (r *Radio) emit(frame []byte) {
	select {
	case r.frames <- frame:
		r.logger.Debug("radio: frame received", "len", len(frame), "data", utils.BytesToHex(frame))
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("radio: frame queue full, dropping", "len", len(frame))
	}
}
