// Package poller runs the gateway control loop: it queries sensor nodes in
// round-robin order, waits a bounded window for each answer and hands
// accepted readings to the uplink relay.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudpico-relay/internal/clock"
	"cloudpico-relay/internal/fault"
	"cloudpico-relay/internal/link"
	"cloudpico-relay/internal/packet"
	"cloudpico-relay/internal/relay"
	"cloudpico-relay/internal/utils"
)

const (
	DefaultMinNode         packet.NodeID = 2
	DefaultMaxNode         packet.NodeID = 5
	DefaultWindow                        = 1000 * time.Millisecond
	DefaultAttemptInterval               = 200 * time.Millisecond
	DefaultQueryTxDelay                  = 10 * time.Millisecond
	DefaultPollInterval                  = 2 * time.Millisecond

	frameBufferSize = 64
)

// Uplink is the part of the relay the poller drives.
type Uplink interface {
	NeedsDelivery() bool
	Attempt() bool
	Replace(ctx context.Context, msg relay.Message) error
}

// Outcome is how a cycle's receive window ended.
type Outcome int

const (
	ValidReceived Outcome = iota + 1
	WindowExpired
)

func (o Outcome) String() string {
	switch o {
	case ValidReceived:
		return "valid_received"
	case WindowExpired:
		return "window_expired"
	default:
		return "none"
	}
}

// Reading is an accepted packet together with the uplink message built from it.
type Reading struct {
	Node       packet.NodeID
	Packet     packet.SensorPacket
	Message    relay.Message
	AcceptedAt time.Time
}

// Status is a snapshot of poller progress for status reporting.
type Status struct {
	Node        packet.NodeID `json:"node"`
	Cycles      int           `json:"cycles"`
	LastOutcome string        `json:"last_outcome"`
	Accepted    int           `json:"accepted_total"`
	Rejected    int           `json:"rejected_total"`
	Expired     int           `json:"expired_total"`
	LastReading string        `json:"last_reading,omitempty"`
}

type Options struct {
	MinNode         packet.NodeID
	MaxNode         packet.NodeID
	Window          time.Duration
	AttemptInterval time.Duration
	QueryTxDelay    time.Duration
	PollInterval    time.Duration
	Logger          *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.MinNode == 0 && o.MaxNode == 0 {
		o.MinNode, o.MaxNode = DefaultMinNode, DefaultMaxNode
	}
	if o.MinNode > o.MaxNode {
		return o, fmt.Errorf("node range %d..%d is empty", o.MinNode, o.MaxNode)
	}
	// Windows and attempt slots are counted in whole milliseconds.
	if o.Window < time.Millisecond {
		o.Window = DefaultWindow
	}
	if o.AttemptInterval < time.Millisecond {
		o.AttemptInterval = DefaultAttemptInterval
	}
	if o.QueryTxDelay < 0 {
		o.QueryTxDelay = 0
	}
	if o.PollInterval < time.Millisecond {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// Poller owns the node cycle and the receive window.
type Poller struct {
	radio  link.RadioLink
	uplink Uplink
	clock  clock.Clock
	opts   Options
	logger *slog.Logger

	node packet.NodeID
	buf  []byte

	mu         sync.RWMutex
	status     Status
	onAccepted func(Reading)
}

func New(radio link.RadioLink, uplink Uplink, clk clock.Clock, opts Options) (*Poller, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Poller{
		radio:  radio,
		uplink: uplink,
		clock:  clk,
		opts:   opts,
		logger: opts.Logger,
		node:   opts.MinNode,
		buf:    make([]byte, frameBufferSize),
		status: Status{Node: opts.MinNode, LastOutcome: "none"},
	}, nil
}

// OnAccepted registers fn to run for every accepted reading, after the
// relay has taken it as its pending message.
func (p *Poller) OnAccepted(fn func(Reading)) {
	p.mu.Lock()
	p.onAccepted = fn
	p.mu.Unlock()
}

// Node returns the node the next cycle will query.
func (p *Poller) Node() packet.NodeID {
	return p.node
}

// Status returns a snapshot of poller progress.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Run executes cycles until ctx is cancelled or a cycle fails fatally.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller: started",
		"min_node", p.opts.MinNode,
		"max_node", p.opts.MaxNode,
		"window", p.opts.Window,
		"attempt_interval", p.opts.AttemptInterval,
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.RunCycle(ctx); err != nil {
			return err
		}
	}
}

// RunCycle queries the current node, waits for its answer and advances to
// the next node. A query that cannot be submitted is returned as a fault.
func (p *Poller) RunCycle(ctx context.Context) (Outcome, error) {
	id := p.node

	if err := p.radio.Send(packet.Query(id)); err != nil {
		return 0, fault.Errorf("query node %d: %w", id, err)
	}
	if p.opts.QueryTxDelay > 0 {
		p.clock.Sleep(p.opts.QueryTxDelay)
	}

	pkt, ok := p.receive(id)
	if !ok {
		p.logger.Debug("poller: node did not answer", "node", id)
		p.finish(id, WindowExpired, "")
		return WindowExpired, nil
	}

	msg := relay.NewMessage(pkt)
	p.logger.Info("reading accepted", "node", id, "reading", msg.Text, "message_id", msg.ID)

	if err := p.uplink.Replace(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ValidReceived, err
		}
		return ValidReceived, fmt.Errorf("hand reading to relay: %w", err)
	}

	p.mu.RLock()
	hook := p.onAccepted
	p.mu.RUnlock()
	if hook != nil {
		hook(Reading{Node: id, Packet: pkt, Message: msg, AcceptedAt: time.Now()})
	}

	p.finish(id, ValidReceived, msg.Text)
	return ValidReceived, nil
}

// receive runs the receive window for node id. It returns the first frame
// that validates; rejected frames neither shorten nor extend the window.
func (p *Poller) receive(id packet.NodeID) (packet.SensorPacket, bool) {
	window := p.opts.Window.Milliseconds()
	interval := p.opts.AttemptInterval.Milliseconds()
	start := p.clock.NowMillis()
	var nextAttempt int64

	for {
		elapsed := p.clock.NowMillis() - start
		if elapsed >= window {
			return packet.SensorPacket{}, false
		}

		if elapsed >= nextAttempt {
			if p.uplink.NeedsDelivery() {
				p.uplink.Attempt()
			}
			for nextAttempt <= elapsed {
				nextAttempt += interval
			}
		}

		n := p.radio.TryReceiveFrame(p.buf)
		if n == 0 {
			p.clock.Sleep(p.opts.PollInterval)
			continue
		}

		frame := p.buf[:n]
		pkt, err := packet.Validate(frame, id)
		if err != nil {
			p.logger.Warn("radio: frame rejected",
				"node", id,
				"len", n,
				"error", err,
				"data", utils.BytesToHex(frame),
			)
			p.mu.Lock()
			p.status.Rejected++
			p.mu.Unlock()
			continue
		}
		return pkt, true
	}
}

func (p *Poller) finish(id packet.NodeID, outcome Outcome, reading string) {
	p.node = p.next(id)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Node = p.node
	p.status.Cycles++
	p.status.LastOutcome = outcome.String()
	switch outcome {
	case ValidReceived:
		p.status.Accepted++
		p.status.LastReading = reading
	case WindowExpired:
		p.status.Expired++
	}
}

func (p *Poller) next(id packet.NodeID) packet.NodeID {
	if id >= p.opts.MaxNode {
		return p.opts.MinNode
	}
	return id + 1
}
