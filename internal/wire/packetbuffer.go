// Package wire reassembles a raw byte stream into length-prefixed
// messages, tolerating reads that split a message across an arbitrary
// chunk boundary.
package wire

import (
	"bytes"
	"fmt"

	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

// MaxMessageLength is the largest value the 2-byte little-endian length
// header can represent.
const MaxMessageLength = 0xFFFF

// PacketBuffer accumulates bytes fed via Write and yields complete
// messages via Read, regardless of how the underlying stream happened to
// be chunked.
type PacketBuffer struct {
	buf bytes.Buffer
}

// New returns an empty PacketBuffer.
func New() *PacketBuffer {
	return &PacketBuffer{}
}

// Write appends b to the buffer.
func (p *PacketBuffer) Write(b []byte) {
	p.buf.Write(b)
}

// Read returns the next complete message, or (nil, nil) if the buffer
// doesn't yet hold a full message. A length header below message.HeaderSize
// is a fatal framing error.
func (p *PacketBuffer) Read() ([]byte, error) {
	avail := p.buf.Bytes()
	if len(avail) < 2 {
		return nil, nil
	}

	n := int(message.FrameLength(avail))
	if n < message.HeaderSize {
		return nil, fmt.Errorf("%w: length %d below minimum header size %d", protoerr.ErrFraming, n, message.HeaderSize)
	}
	if len(avail) < n {
		return nil, nil
	}

	msg := make([]byte, n)
	copy(msg, avail[:n])
	p.buf.Next(n)
	return msg, nil
}

// Pending reports how many unconsumed bytes the buffer currently holds.
func (p *PacketBuffer) Pending() int {
	return p.buf.Len()
}
