package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpico-relay/internal/link"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipePort joins two pipes into a full-duplex port: the test reads what the
// link wrote from out and feeds the link through in.
type pipePort struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p *pipePort) Close() error {
	for _, c := range p.closers {
		_ = c.Close()
	}
	return nil
}

func TestSerial_SendAndReceive(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	port := &pipePort{Reader: inR, Writer: outW, closers: []io.Closer{inR, outW}}

	s := NewSerial(port, discard())
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Close() })

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := io.ReadAtLeast(outR, buf, 4)
		got <- buf[:n]
	}()
	require.NoError(t, s.Send([]byte("2&x\x00")))
	assert.Equal(t, []byte("2&x\x00"), <-got)

	_, err := inW.Write([]byte{0x06})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		b, ok := s.TryReceiveByte()
		return ok && b == 0x06
	}, time.Second, time.Millisecond)

	_, ok := s.TryReceiveByte()
	assert.False(t, ok)
}

func TestSerial_SendAfterClose(t *testing.T) {
	_, outW := io.Pipe()
	inR, _ := io.Pipe()
	s := NewSerial(&pipePort{Reader: inR, Writer: outW, closers: []io.Closer{inR, outW}}, discard())
	s.Start(context.Background())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte{1}), link.ErrClosed)
}

func startEndpoint(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
		}
	}()
	return ln.Addr().String(), conns
}

func startTCP(t *testing.T, addr string) *TCP {
	t.Helper()
	tl := NewTCP(addr, discard())
	tl.redialDelay = 10 * time.Millisecond
	tl.Start(context.Background())
	t.Cleanup(func() { _ = tl.Close() })
	return tl
}

func TestTCP_ConnectsInBackgroundAndReadsAck(t *testing.T) {
	addr, conns := startEndpoint(t)
	tl := startTCP(t, addr)

	var conn net.Conn
	select {
	case conn = <-conns:
	case <-time.After(time.Second):
		t.Fatal("no dial after Start")
	}
	defer conn.Close()
	require.Eventually(t, tl.Connected, time.Second, time.Millisecond)

	require.NoError(t, tl.Send([]byte("3&1.0&2.0&3.0&\x00")))

	buf := make([]byte, 32)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := io.ReadAtLeast(conn, buf, 15)
	require.NoError(t, err)
	assert.Equal(t, "3&1.0&2.0&3.0&\x00", string(buf[:n]))

	_, err = conn.Write([]byte("K"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		b, ok := tl.TryReceiveByte()
		return ok && b == 'K'
	}, time.Second, time.Millisecond)
}

func TestTCP_RedialsAfterPeerClose(t *testing.T) {
	addr, conns := startEndpoint(t)
	tl := startTCP(t, addr)

	first := <-conns
	require.Eventually(t, tl.Connected, time.Second, time.Millisecond)
	require.NoError(t, first.Close())

	select {
	case second := <-conns:
		defer second.Close()
	case <-time.After(time.Second):
		t.Fatal("no redial")
	}
	require.Eventually(t, func() bool { return tl.Send([]byte{2}) == nil }, time.Second, time.Millisecond)
}

func TestTCP_SendFailsFastWhileUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tl := startTCP(t, addr)

	start := time.Now()
	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, tl.Send([]byte{1}), ErrNotConnected)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, tl.Close())
	assert.ErrorIs(t, tl.Send([]byte{1}), link.ErrClosed)
}

func TestTCP_SendWithoutStart(t *testing.T) {
	tl := NewTCP("192.0.2.1:7000", discard())
	t.Cleanup(func() { _ = tl.Close() })

	start := time.Now()
	assert.ErrorIs(t, tl.Send([]byte{1}), ErrNotConnected)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestTCP_StalledPeerHitsWriteDeadline(t *testing.T) {
	addr, conns := startEndpoint(t)
	tl := startTCP(t, addr)

	peer := <-conns
	defer peer.Close()
	require.Eventually(t, tl.Connected, time.Second, time.Millisecond)

	// The peer never reads, so the socket buffers fill and a write stalls.
	chunk := make([]byte, 1<<20)
	var sendErr error
	for i := 0; i < 64 && sendErr == nil; i++ {
		start := time.Now()
		sendErr = tl.Send(chunk)
		assert.Less(t, time.Since(start), time.Second)
	}
	require.Error(t, sendErr)
}
