package link

import "sync"

// MockRadio is an in-memory RadioLink. Frames queued with Deliver are handed
// out by TryReceiveFrame in order; every Send is recorded.
type MockRadio struct {
	mu      sync.Mutex
	sent    [][]byte
	inbound [][]byte

	// SendErr, when set, is returned by every Send.
	SendErr error
	// Polls counts TryReceiveFrame calls.
	Polls int
}

func NewMockRadio() *MockRadio {
	return &MockRadio{}
}

func (m *MockRadio) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, append([]byte(nil), frame...))
	return nil
}

func (m *MockRadio) TryReceiveFrame(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Polls++
	if len(m.inbound) == 0 {
		return 0
	}
	frame := m.inbound[0]
	m.inbound = m.inbound[1:]
	return copy(buf, frame)
}

// Deliver queues a frame for a later TryReceiveFrame.
func (m *MockRadio) Deliver(frame []byte) {
	m.mu.Lock()
	m.inbound = append(m.inbound, append([]byte(nil), frame...))
	m.mu.Unlock()
}

// Sent returns a copy of every frame passed to Send.
func (m *MockRadio) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, f := range m.sent {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// MockTransport is an in-memory TransportLink.
type MockTransport struct {
	mu   sync.Mutex
	sent [][]byte
	rx   *ByteFIFO

	// SendErr, when set, is returned by every Send.
	SendErr error
	// OnSend runs after each successful Send with the 1-based send count.
	// Tests use it to script acknowledgments.
	OnSend func(n int)
}

func NewMockTransport() *MockTransport {
	return &MockTransport{rx: NewByteFIFO(DefaultFIFOSize)}
}

func (m *MockTransport) Send(p []byte) error {
	m.mu.Lock()
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, append([]byte(nil), p...))
	n := len(m.sent)
	hook := m.OnSend
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (m *MockTransport) TryReceiveByte() (byte, bool) {
	return m.rx.Pop()
}

// Inject queues inbound bytes, as if the remote end had replied.
func (m *MockTransport) Inject(p ...byte) {
	m.rx.Write(p)
}

// Pending returns the number of inbound bytes not yet consumed.
func (m *MockTransport) Pending() int {
	return m.rx.Len()
}

// Sent returns a copy of every payload passed to Send.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, p := range m.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}
