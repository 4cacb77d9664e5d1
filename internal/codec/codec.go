// Package codec defines the external protocol-codec contract: opcode<->name
// resolution and versioned schema parse/write. The real game codec for any
// given protocol lives outside this repository; this package stays
// deliberately thin, giving just enough of a name-keyed, byte-constant
// schema table for TableCodec to exercise the contract end to end.
package codec

import "github.com/fenwick-labs/hookproxy/internal/message"

// Codec resolves message names/opcodes under a protocol version and
// parses/serializes message bodies under a definition version.
type Codec interface {
	// NameToCode resolves name to its opcode under protocolVersion.
	NameToCode(protocolVersion int, name message.MessageName) (message.Opcode, bool)
	// CodeToName resolves an opcode back to its canonical name under
	// protocolVersion.
	CodeToName(protocolVersion int, code message.Opcode) (message.MessageName, bool)
	// LatestDefinitionVersion returns the newest known schema revision
	// for name.
	LatestDefinitionVersion(name message.MessageName) (int, bool)
	// Parse decodes data into an event under the given definition version.
	Parse(protocolVersion int, code message.Opcode, version message.DefinitionVersion, data []byte) (any, error)
	// Write encodes event back into bytes under the given definition
	// version.
	Write(protocolVersion int, code message.Opcode, version message.DefinitionVersion, event any) ([]byte, error)
}

// VersionEntry is one element of a CheckVersionEvent's Version slice.
type VersionEntry struct {
	Index int
	Value int
}

// CheckVersionEvent is the conventional parsed shape of C_CHECK_VERSION,
// used by internal/dispatch to extract the client's protocol version from
// Version[0].Value where Version[0].Index == 0.
type CheckVersionEvent struct {
	Version []VersionEntry
}
