// Package cipher implements a per-direction rolling-XOR keystream: seeded
// by four 128-byte half-keys exchanged during the handshake, with an
// explicit init() gate and in-place encrypt/decrypt. The keystream evolves
// by message size after every call, independently per direction.
package cipher

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

// KeySize is the length of each of the four handshake half-keys.
const KeySize = 128

// Cipher is a per-direction keystream. A Connection owns two of them
// (session1 for client<->proxy, session2 for proxy<->server); each sees
// both an encrypt stream and a decrypt stream, evolving independently so
// a completed encrypt/decrypt round-trip on a single fresh Cipher always
// restores the original bytes while the two directions still track
// divergent real traffic over the life of a connection.
type Cipher struct {
	mu sync.Mutex

	clientKeys [2][]byte
	serverKeys [2][]byte
	haveKey    [4]bool

	encKey [KeySize]byte
	decKey [KeySize]byte
	ready  bool
}

// New returns a Cipher with no keys set.
func New() *Cipher {
	return &Cipher{}
}

// SetClientKey installs half-key idx (0 or 1) of the client's contribution.
func (c *Cipher) SetClientKey(idx int, key []byte) error {
	if idx != 0 && idx != 1 {
		return fmt.Errorf("%w: invalid client key index %d", protoerr.ErrCrypto, idx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientKeys[idx] = copyKey(key)
	c.haveKey[idx] = true
	return nil
}

// SetServerKey installs half-key idx (0 or 1) of the server's contribution.
func (c *Cipher) SetServerKey(idx int, key []byte) error {
	if idx != 0 && idx != 1 {
		return fmt.Errorf("%w: invalid server key index %d", protoerr.ErrCrypto, idx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverKeys[idx] = copyKey(key)
	c.haveKey[2+idx] = true
	return nil
}

func copyKey(key []byte) []byte {
	buf := make([]byte, KeySize)
	copy(buf, key)
	return buf
}

// AllKeysSet reports whether all four half-keys have been installed.
func (c *Cipher) AllKeysSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allKeysSetLocked()
}

func (c *Cipher) allKeysSetLocked() bool {
	for _, have := range c.haveKey {
		if !have {
			return false
		}
	}
	return true
}

// Ready reports whether Init has been called successfully.
func (c *Cipher) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Init derives the keystream from the four half-keys. It is a programmer
// error to call Init before all four keys are set, or to call
// Encrypt/Decrypt before Init; both panic rather than return an error.
func (c *Cipher) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.allKeysSetLocked() {
		panic("cipher: init called before all four half-keys were set")
	}

	var combined [KeySize]byte
	for i := 0; i < KeySize; i++ {
		combined[i] = c.clientKeys[0][i] ^ c.clientKeys[1][i] ^ c.serverKeys[0][i] ^ c.serverKeys[1][i]
	}
	c.encKey = combined
	c.decKey = combined
	c.ready = true
}

// Encrypt XORs buf in place against the rolling encrypt-side keystream
// and advances it by len(buf).
func (c *Cipher) Encrypt(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		panic("cipher: encrypt called before init")
	}
	var prev byte
	for i := range buf {
		prev = buf[i] ^ c.encKey[i%KeySize] ^ prev
		buf[i] = prev
	}
	shiftKey(&c.encKey, len(buf))
}

// Decrypt inverts Encrypt in place against the rolling decrypt-side
// keystream and advances it by len(buf).
func (c *Cipher) Decrypt(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		panic("cipher: decrypt called before init")
	}
	var xor byte
	for i := range buf {
		enc := buf[i]
		buf[i] = enc ^ c.decKey[i%KeySize] ^ xor
		xor = enc
	}
	shiftKey(&c.decKey, len(buf))
}

// shiftKey evolves key by folding size into the 4 bytes at offset 8,
// mirroring game_crypt.go's per-call key rotation.
func shiftKey(key *[KeySize]byte, size int) {
	v := binary.LittleEndian.Uint32(key[8:12])
	v += uint32(size)
	binary.LittleEndian.PutUint32(key[8:12], v)
}
