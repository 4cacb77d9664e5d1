package message

import "encoding/binary"

// HeaderSize is the length of a message's length+opcode header: a 2-byte
// little-endian length (including the header itself) followed by a
// 2-byte little-endian opcode.
const HeaderSize = 4

// FrameLength reads the little-endian length header of buf. Callers must
// ensure len(buf) >= 2.
func FrameLength(buf []byte) uint16 {
	return binary.LittleEndian.Uint16(buf[0:2])
}

// FrameOpcode reads the little-endian opcode field of buf. Callers must
// ensure len(buf) >= HeaderSize.
func FrameOpcode(buf []byte) Opcode {
	return Opcode(binary.LittleEndian.Uint16(buf[2:4]))
}
