package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

func frame(opcode uint16, payload []byte) []byte {
	buf := make([]byte, message.HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(buf)))
	binary.LittleEndian.PutUint16(buf[2:4], opcode)
	copy(buf[message.HeaderSize:], payload)
	return buf
}

func TestPacketBufferReassemblesAcrossArbitraryChunkBoundaries(t *testing.T) {
	msg1 := frame(1, []byte("hello"))
	msg2 := frame(2, []byte("world, this is a longer payload"))
	stream := append(append([]byte{}, msg1...), msg2...)

	// Feed the stream back in every possible chunk size from 1 byte up to
	// the whole thing at once; every size must reassemble the same two
	// messages in order.
	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		pb := New()
		var got [][]byte
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			pb.Write(stream[off:end])
			for {
				msg, err := pb.Read()
				if err != nil {
					t.Fatalf("chunkSize=%d: unexpected error: %v", chunkSize, err)
				}
				if msg == nil {
					break
				}
				got = append(got, msg)
			}
		}
		if len(got) != 2 {
			t.Fatalf("chunkSize=%d: got %d messages, want 2", chunkSize, len(got))
		}
		if !bytes.Equal(got[0], msg1) {
			t.Errorf("chunkSize=%d: msg1 mismatch", chunkSize)
		}
		if !bytes.Equal(got[1], msg2) {
			t.Errorf("chunkSize=%d: msg2 mismatch", chunkSize)
		}
		if pb.Pending() != 0 {
			t.Errorf("chunkSize=%d: Pending() = %d, want 0", chunkSize, pb.Pending())
		}
	}
}

func TestPacketBufferIncompleteReturnsNilNil(t *testing.T) {
	pb := New()
	pb.Write([]byte{10, 0}) // length header only, claims a 10-byte message
	msg, err := pb.Read()
	if err != nil || msg != nil {
		t.Fatalf("Read() = (%v, %v), want (nil, nil)", msg, err)
	}
	if pb.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", pb.Pending())
	}
}

func TestPacketBufferRejectsSubHeaderLength(t *testing.T) {
	pb := New()
	pb.Write([]byte{2, 0, 0, 0}) // length field says 2, below HeaderSize
	_, err := pb.Read()
	if !errors.Is(err, protoerr.ErrFraming) {
		t.Fatalf("Read() error = %v, want wrapping protoerr.ErrFraming", err)
	}
}
