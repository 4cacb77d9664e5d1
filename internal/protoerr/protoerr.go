// Package protoerr defines typed sentinel errors (framing, crypto, codec,
// hook, module, registration) so callers can tell them apart with
// errors.Is, plus a hex-dump helper for logging the offending bytes
// alongside a codec error.
package protoerr

import (
	"encoding/hex"
	"errors"
)

var (
	// ErrFraming marks a length header below the minimum or a malformed
	// handshake datagram — fatal to the connection it occurred on.
	ErrFraming = errors.New("protoerr: framing error")
	// ErrCrypto marks a cipher misuse reported as an error: an invalid
	// half-key index. Using a cipher before Init panics instead.
	ErrCrypto = errors.New("protoerr: crypto error")
	// ErrCodecParse marks a codec.Parse failure.
	ErrCodecParse = errors.New("protoerr: codec parse error")
	// ErrCodecWrite marks a codec.Write failure.
	ErrCodecWrite = errors.New("protoerr: codec write error")
	// ErrHook marks a hook callback that panicked or otherwise failed.
	ErrHook = errors.New("protoerr: hook error")
	// ErrModule marks a module load/unload failure.
	ErrModule = errors.New("protoerr: module error")
	// ErrUnknownName marks a message name the codec could not resolve to
	// an opcode under the active protocol version.
	ErrUnknownName = errors.New("protoerr: unresolved message name")
	// ErrRegistration marks a malformed hook registration (bad version,
	// missing callback, forbidden combination).
	ErrRegistration = errors.New("protoerr: registration error")
)

// HexDump renders b as a compact hex string, suitable for a structured
// log field attached to a CodecError.
func HexDump(b []byte) string {
	return hex.EncodeToString(b)
}
