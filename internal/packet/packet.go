package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Sensor packet format (little-endian): seq byte, humidity float32,
// temperature float32, light float32, terminator '$' (14 bytes total).
const (
	SensorPacketLen  = 14
	SensorTerminator = '$'

	QueryStart = '@'
	QueryEnd   = '#'
	QueryLen   = 3

	// UplinkTerminator closes every uplink message and is counted in its length.
	UplinkTerminator = 0x00
	uplinkSeparator  = '&'
)

// NodeID identifies a sensor node on the radio network.
type NodeID uint8

// SensorPacket is a validated reading from one node.
type SensorPacket struct {
	Seq         byte
	Humidity    float32
	Temperature float32
	Light       float32
	Terminator  byte
}

// Reason says why a frame was rejected.
type Reason int

const (
	WrongSize Reason = iota + 1
	WrongSequence
	WrongTerminator
)

func (r Reason) String() string {
	switch r {
	case WrongSize:
		return "wrong size"
	case WrongSequence:
		return "wrong sequence"
	case WrongTerminator:
		return "wrong terminator"
	default:
		return "unknown"
	}
}

// ValidationError describes a rejected frame.
type ValidationError struct {
	Reason Reason
	Len    int
	Got    byte
	Want   byte
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case WrongSize:
		return fmt.Sprintf("%s: %d bytes, want %d", e.Reason, e.Len, SensorPacketLen)
	default:
		return fmt.Sprintf("%s: got 0x%02X, want 0x%02X", e.Reason, e.Got, e.Want)
	}
}

// IsReason reports whether err is a ValidationError with the given reason.
func IsReason(err error, r Reason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == r
}

// Query builds the 3-byte query frame for id.
func Query(id NodeID) []byte {
	return []byte{QueryStart, byte(id), QueryEnd}
}

// Validate checks frame against the sensor packet shape and the node that
// was just queried. Size is checked first, then sequence, then terminator.
func Validate(frame []byte, expected NodeID) (SensorPacket, error) {
	if len(frame) != SensorPacketLen {
		return SensorPacket{}, &ValidationError{Reason: WrongSize, Len: len(frame)}
	}
	if frame[0] != byte(expected) {
		return SensorPacket{}, &ValidationError{Reason: WrongSequence, Len: len(frame), Got: frame[0], Want: byte(expected)}
	}
	if frame[13] != SensorTerminator {
		return SensorPacket{}, &ValidationError{Reason: WrongTerminator, Len: len(frame), Got: frame[13], Want: SensorTerminator}
	}
	return SensorPacket{
		Seq:         frame[0],
		Humidity:    math.Float32frombits(binary.LittleEndian.Uint32(frame[1:5])),
		Temperature: math.Float32frombits(binary.LittleEndian.Uint32(frame[5:9])),
		Light:       math.Float32frombits(binary.LittleEndian.Uint32(frame[9:13])),
		Terminator:  frame[13],
	}, nil
}

// Encode is the inverse of Validate; the node side of the protocol and the
// tests use it.
func Encode(p SensorPacket) []byte {
	out := make([]byte, SensorPacketLen)
	out[0] = p.Seq
	binary.LittleEndian.PutUint32(out[1:5], math.Float32bits(p.Humidity))
	binary.LittleEndian.PutUint32(out[5:9], math.Float32bits(p.Temperature))
	binary.LittleEndian.PutUint32(out[9:13], math.Float32bits(p.Light))
	out[13] = p.Terminator
	return out
}

// Text renders the reading as "<seq>&<humidity>&<temperature>&<light>&",
// one decimal per value. Validate does not screen values, so a non-finite
// float is relayed as "NaN", "+Inf" or "-Inf". SQLite binds NaN as NULL,
// so the journal rejects such a reading and logs it.
func (p SensorPacket) Text() string {
	b := make([]byte, 0, 32)
	b = strconv.AppendUint(b, uint64(p.Seq), 10)
	b = append(b, uplinkSeparator)
	for _, v := range []float32{p.Humidity, p.Temperature, p.Light} {
		b = strconv.AppendFloat(b, float64(v), 'f', 1, 32)
		b = append(b, uplinkSeparator)
	}
	return string(b)
}

// Serialize produces the uplink bytes for p: Text() followed by the
// terminator byte.
func Serialize(p SensorPacket) []byte {
	text := p.Text()
	out := make([]byte, 0, len(text)+1)
	out = append(out, text...)
	return append(out, UplinkTerminator)
}
