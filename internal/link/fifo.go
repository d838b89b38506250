package link

import "sync"

// DefaultFIFOSize matches a generous UART receive buffer.
const DefaultFIFOSize = 512

// ByteFIFO is a bounded byte queue shared between a background reader and
// the control loop. When full, newly written bytes are dropped, the same
// way a UART overrun loses incoming data.
type ByteFIFO struct {
	mu      sync.Mutex
	buf     []byte
	head    int
	n       int
	dropped int
}

// NewByteFIFO returns a FIFO holding at most size bytes.
func NewByteFIFO(size int) *ByteFIFO {
	if size <= 0 {
		size = DefaultFIFOSize
	}
	return &ByteFIFO{buf: make([]byte, size)}
}

// Write appends p and reports how many bytes were stored.
func (f *ByteFIFO) Write(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := 0
	for _, b := range p {
		if f.n == len(f.buf) {
			f.dropped++
			continue
		}
		f.buf[(f.head+f.n)%len(f.buf)] = b
		f.n++
		stored++
	}
	return stored
}

// Pop removes the oldest byte.
func (f *ByteFIFO) Pop() (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		return 0, false
	}
	b := f.buf[f.head]
	f.head = (f.head + 1) % len(f.buf)
	f.n--
	return b, true
}

// Len returns the number of queued bytes.
func (f *ByteFIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// Clear discards everything queued.
func (f *ByteFIFO) Clear() {
	f.mu.Lock()
	f.head, f.n = 0, 0
	f.mu.Unlock()
}

// Dropped returns the number of bytes lost to overrun.
func (f *ByteFIFO) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
