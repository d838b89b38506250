// Package link defines the byte channels the gateway drives: the radio link
// to the sensor nodes and the transport link to the wide-area endpoint.
//
// Both are half-duplex from the control loop's point of view and neither
// reports transmit completion. Implementations queue outgoing bytes and fill
// their receive side from a background reader; the control loop only samples.
package link

import "errors"

// ErrClosed is returned by Send on a link that has been closed.
var ErrClosed = errors.New("link closed")

// RadioLink carries queries out to sensor nodes and frames back.
type RadioLink interface {
	// Send queues a frame for transmission. A nil error only means the bytes
	// were accepted for sending.
	Send(frame []byte) error
	// TryReceiveFrame copies the oldest complete inbound frame into buf and
	// returns its length. Zero means no frame is available. It never blocks.
	TryReceiveFrame(buf []byte) int
}

// TransportLink carries uplink messages out and acknowledgment bytes back.
type TransportLink interface {
	// Send queues bytes for transmission, fire and forget.
	Send(p []byte) error
	// TryReceiveByte pops one inbound byte without blocking.
	TryReceiveByte() (byte, bool)
}
