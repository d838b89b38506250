package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpico-relay/internal/clock"
	"cloudpico-relay/internal/config"
	"cloudpico-relay/internal/fault"
	"cloudpico-relay/internal/packet"
	"cloudpico-relay/internal/serialport"
)

// scriptedPort answers every write through reply and serves the answers to
// Read like a UART with a short read timeout.
type scriptedPort struct {
	reply func(written []byte) []byte

	mu     sync.Mutex
	in     chan []byte
	closed bool
	writes [][]byte
}

func newScriptedPort(reply func([]byte) []byte) *scriptedPort {
	return &scriptedPort{reply: reply, in: make(chan []byte, 32)}
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	select {
	case c := <-p.in:
		return copy(b, c), nil
	case <-time.After(time.Millisecond):
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	if p.reply != nil {
		if out := p.reply(b); len(out) > 0 {
			p.in <- out
		}
	}
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *scriptedPort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		AppEnv:          "dev",
		LogLevel:        slog.LevelInfo,
		HTTPAddr:        "127.0.0.1:0",
		RadioPort:       "radio",
		RadioFrameGap:   5 * time.Millisecond,
		UplinkTransport: config.TransportSerial,
		UplinkPort:      "uplink",
		MinNode:         2,
		MaxNode:         3,
		ReceiveWindow:   100 * time.Millisecond,
		AttemptInterval: 20 * time.Millisecond,
		FlushInterval:   20 * time.Millisecond,
		PollInterval:    time.Millisecond,
		AckBytes:        []byte{0x06, 'K'},
		SQLitePath:      filepath.Join(t.TempDir(), "journal.db"),
	}
}

func opener(ports map[string]*scriptedPort) serialport.Opener {
	return func(path string, _ serialport.PortOptions) (serialport.Port, error) {
		p, ok := ports[path]
		if !ok {
			return nil, errors.New("no such device")
		}
		return p, nil
	}
}

func TestRun_RelaysAndJournalsReadings(t *testing.T) {
	// Node 2 answers, node 3 stays silent.
	radio := newScriptedPort(func(w []byte) []byte {
		if len(w) == packet.QueryLen && w[1] == 2 {
			return packet.Encode(packet.SensorPacket{Seq: 2, Humidity: 45.6, Temperature: 21, Light: 123.4, Terminator: packet.SensorTerminator})
		}
		return nil
	})
	uplink := newScriptedPort(func([]byte) []byte { return []byte{0x06} })
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, opener(map[string]*scriptedPort{"radio": radio, "uplink": uplink}), clock.NewSystem())
	}()

	db, err := sql.Open("sqlite3", "file:"+cfg.SQLitePath+"?_busy_timeout=5000")
	require.NoError(t, err)
	defer db.Close()

	require.Eventually(t, func() bool {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM readings WHERE confirmed_at IS NOT NULL`).Scan(&n)
		return err == nil && n >= 1
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	var node int
	var msg string
	var humidity float64
	require.NoError(t, db.QueryRow(`SELECT node_id, message, humidity FROM readings LIMIT 1`).Scan(&node, &msg, &humidity))
	assert.Equal(t, 2, node)
	assert.Equal(t, "2&45.6&21.0&123.4&", msg)
	assert.Equal(t, 45.6, humidity)

	// Queries alternate between the two nodes.
	writes := radio.Writes()
	require.GreaterOrEqual(t, len(writes), 2)
	assert.Equal(t, []byte{'@', 2, '#'}, writes[0])
	assert.Equal(t, []byte{'@', 3, '#'}, writes[1])

	// Uplink payloads carry the NUL terminator.
	sent := uplink.Writes()
	require.NotEmpty(t, sent)
	assert.Equal(t, append([]byte("2&45.6&21.0&123.4&"), 0), sent[0])
}

func TestRun_MissingRadioIsFault(t *testing.T) {
	cfg := testConfig(t)

	err := run(context.Background(), cfg, opener(map[string]*scriptedPort{}), clock.NewSystem())
	require.Error(t, err)
	_, ok := fault.As(err)
	assert.True(t, ok, "error %v is not a fault", err)
}

func TestWiden(t *testing.T) {
	assert.Equal(t, 45.6, widen(45.6))
	assert.Equal(t, -4.04, widen(-4.04))
	assert.Equal(t, 0.0, widen(0))
}
