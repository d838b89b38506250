// Package relay delivers accepted sensor readings over the transport link
// and keeps retrying until the far end acknowledges them.
//
// The relay owns at most one pending message. A new message replaces it only
// once the current one is confirmed, so readings leave the gateway in the
// order they were accepted and none is dropped unacknowledged.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudpico-relay/internal/clock"
	"cloudpico-relay/internal/link"
	"cloudpico-relay/internal/packet"

	"github.com/google/uuid"
)

const (
	DefaultFlushInterval = 200 * time.Millisecond
	// DefaultDrainLimit bounds how many stale inbound bytes are discarded
	// when a new message is installed.
	DefaultDrainLimit = 64
	// AckASCII is the ASCII ACK control character.
	AckASCII = 0x06
)

// DefaultAckBytes are the two bytes accepted as proof of delivery.
var DefaultAckBytes = []byte{AckASCII, 'K'}

// ErrUnconfirmed is returned by SetPending while the current message has not
// been acknowledged. Flush it first.
var ErrUnconfirmed = errors.New("relay: pending message not confirmed")

// State is the delivery state of the pending message.
type State int

const (
	NotSent State = iota
	Attempting
	Confirmed
)

func (s State) String() string {
	switch s {
	case NotSent:
		return "not_sent"
	case Attempting:
		return "attempting"
	case Confirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Delivery is the state of the pending message together with its attempt
// bookkeeping. Attempts and LastAttempt are meaningful once State leaves
// NotSent.
type Delivery struct {
	State       State
	Attempts    int
	LastAttempt int64
}

// Message is one serialized reading awaiting delivery.
type Message struct {
	ID      string
	Node    packet.NodeID
	Payload []byte
	Text    string
}

// NewMessage serializes p into an uplink message.
func NewMessage(p packet.SensorPacket) Message {
	return Message{
		ID:      uuid.NewString(),
		Node:    packet.NodeID(p.Seq),
		Payload: packet.Serialize(p),
		Text:    p.Text(),
	}
}

type Options struct {
	AckBytes      []byte
	FlushInterval time.Duration
	DrainLimit    int
	Logger        *slog.Logger
}

// Snapshot is a copy of the relay state for status reporting.
type Snapshot struct {
	HasPending  bool   `json:"has_pending"`
	MessageID   string `json:"message_id,omitempty"`
	Message     string `json:"message,omitempty"`
	State       string `json:"state"`
	Attempts    int    `json:"attempts"`
	LastAttempt int64  `json:"last_attempt_ms"`
	Confirmed   int    `json:"confirmed_total"`
	SendErrors  int    `json:"send_errors_total"`
}

// Relay is the uplink store-and-forward state machine.
type Relay struct {
	transport     link.TransportLink
	clock         clock.Clock
	ackBytes      []byte
	flushInterval time.Duration
	drainLimit    int
	logger        *slog.Logger

	mu          sync.Mutex
	pending     *Message
	delivery    Delivery
	confirmed   int
	sendErrors  int
	onConfirmed func(Message, int)
}

func New(transport link.TransportLink, clk clock.Clock, opts Options) *Relay {
	if len(opts.AckBytes) == 0 {
		opts.AckBytes = DefaultAckBytes
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.DrainLimit <= 0 {
		opts.DrainLimit = DefaultDrainLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		transport:     transport,
		clock:         clk,
		ackBytes:      append([]byte(nil), opts.AckBytes...),
		flushInterval: opts.FlushInterval,
		drainLimit:    opts.DrainLimit,
		logger:        opts.Logger,
	}
}

// OnConfirmed registers fn to run after a message is acknowledged, with the
// number of attempts it took. fn runs on the control loop.
func (r *Relay) OnConfirmed(fn func(msg Message, attempts int)) {
	r.mu.Lock()
	r.onConfirmed = fn
	r.mu.Unlock()
}

// Delivery returns the current delivery state.
func (r *Relay) Delivery() Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivery
}

// Pending returns the current message, if any.
func (r *Relay) Pending() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Message{}, false
	}
	return *r.pending, true
}

// NeedsDelivery reports whether a message is waiting for acknowledgment.
func (r *Relay) NeedsDelivery() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil && r.delivery.State != Confirmed
}

// SetPending installs msg as the pending message. It refuses with
// ErrUnconfirmed unless the relay is empty or the current message has been
// confirmed.
func (r *Relay) SetPending(msg Message) error {
	r.mu.Lock()
	if r.pending != nil && r.delivery.State != Confirmed {
		r.mu.Unlock()
		return ErrUnconfirmed
	}
	m := msg
	m.Payload = append([]byte(nil), msg.Payload...)
	r.pending = &m
	r.delivery = Delivery{State: NotSent}
	r.mu.Unlock()

	if n := r.drain(); n > 0 {
		r.logger.Debug("relay: discarded stale inbound bytes", "count", n)
	}
	return nil
}

// Attempt sends the pending message once and checks a single inbound byte
// for an acknowledgment. It never blocks and does nothing when there is no
// unconfirmed message. It reports whether the message is now confirmed.
func (r *Relay) Attempt() bool {
	r.mu.Lock()
	if r.pending == nil || r.delivery.State == Confirmed {
		r.mu.Unlock()
		return false
	}
	msg, attempts, done := r.attemptLocked()
	hook := r.onConfirmed
	r.mu.Unlock()

	if done && hook != nil {
		hook(msg, attempts)
	}
	return done
}

// ForceFlush repeats Attempt every flush interval until the pending message
// is acknowledged. There is no attempt limit; only ctx cancellation, used at
// process shutdown, ends it early.
func (r *Relay) ForceFlush(ctx context.Context) error {
	if !r.NeedsDelivery() {
		return nil
	}
	start := r.clock.NowMillis()
	r.logger.Info("relay: flushing unconfirmed message")
	for {
		if r.Attempt() {
			d := r.Delivery()
			r.logger.Info("relay: flush complete",
				"attempts", d.Attempts,
				"elapsed_ms", r.clock.NowMillis()-start,
			)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("relay flush: %w", err)
		}
		r.clock.Sleep(r.flushInterval)
	}
}

// Replace makes msg the pending message, flushing the current one first if
// it is still unconfirmed.
func (r *Relay) Replace(ctx context.Context, msg Message) error {
	if r.NeedsDelivery() {
		if err := r.ForceFlush(ctx); err != nil {
			return err
		}
	}
	return r.SetPending(msg)
}

// Snapshot returns a copy of the relay state.
func (r *Relay) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		State:       r.delivery.State.String(),
		Attempts:    r.delivery.Attempts,
		LastAttempt: r.delivery.LastAttempt,
		Confirmed:   r.confirmed,
		SendErrors:  r.sendErrors,
	}
	if r.pending != nil {
		s.HasPending = true
		s.MessageID = r.pending.ID
		s.Message = r.pending.Text
	}
	return s
}

func (r *Relay) attemptLocked() (Message, int, bool) {
	r.delivery.State = Attempting
	r.delivery.Attempts++
	r.delivery.LastAttempt = r.clock.NowMillis()

	if err := r.transport.Send(r.pending.Payload); err != nil {
		r.sendErrors++
		r.logger.Warn("relay: uplink send failed",
			"message_id", r.pending.ID,
			"attempt", r.delivery.Attempts,
			"error", err,
		)
	}

	b, ok := r.transport.TryReceiveByte()
	if !ok || !r.isAck(b) {
		if ok {
			r.logger.Debug("relay: ignored inbound byte", "byte", fmt.Sprintf("0x%02X", b))
		}
		return Message{}, 0, false
	}

	r.delivery.State = Confirmed
	r.confirmed++
	r.logger.Debug("relay: message confirmed",
		"message_id", r.pending.ID,
		"attempts", r.delivery.Attempts,
	)
	return *r.pending, r.delivery.Attempts, true
}

func (r *Relay) isAck(b byte) bool {
	for _, a := range r.ackBytes {
		if b == a {
			return true
		}
	}
	return false
}

func (r *Relay) drain() int {
	n := 0
	for n < r.drainLimit {
		if _, ok := r.transport.TryReceiveByte(); !ok {
			break
		}
		n++
	}
	return n
}
