package discord

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies the kind of IPC frame.
type Opcode uint32

const (
	OpHandshake Opcode = 0
	OpFrame     Opcode = 1
	OpClose     Opcode = 2
	OpPing      Opcode = 3
	OpPong      Opcode = 4
)

func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "handshake"
	case OpFrame:
		return "frame"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%d)", uint32(o))
	}
}

// headerSize is the opcode plus the payload length, both little-endian uint32.
const headerSize = 8

// MaxPayload bounds a single frame's payload.
const MaxPayload = 16 * 1024 * 1024

// Frame is one decoded IPC frame.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// EncodeFrame returns header plus payload.
func EncodeFrame(op Opcode, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

// Decoder reassembles frames from arbitrarily split reads.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a decoder that rejects payloads larger than max.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = MaxPayload
	}
	return &Decoder{max: max}
}

// Feed appends chunk and returns every complete frame now available, in
// order. A trailing partial frame stays buffered. An oversize length header
// is unrecoverable: the stream is out of sync and must be dropped.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for len(d.buf) >= headerSize {
		op := Opcode(binary.LittleEndian.Uint32(d.buf[0:4]))
		n := binary.LittleEndian.Uint32(d.buf[4:8])
		if uint64(n) > uint64(d.max) {
			d.buf = nil
			return frames, fmt.Errorf("frame payload %d exceeds limit %d", n, d.max)
		}
		end := headerSize + int(n)
		if len(d.buf) < end {
			break
		}
		payload := make([]byte, n)
		copy(payload, d.buf[headerSize:end])
		frames = append(frames, Frame{Op: op, Payload: payload})
		d.buf = d.buf[end:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
