package cipher

import (
	"errors"
	"testing"

	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

func keyFilledWith(b byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func readyCipher() *Cipher {
	c := New()
	_ = c.SetClientKey(0, keyFilledWith(1))
	_ = c.SetClientKey(1, keyFilledWith(2))
	_ = c.SetServerKey(0, keyFilledWith(3))
	_ = c.SetServerKey(1, keyFilledWith(4))
	c.Init()
	return c
}

func TestAllKeysSetRequiresAllFour(t *testing.T) {
	c := New()
	if c.AllKeysSet() {
		t.Fatal("AllKeysSet() = true on a fresh Cipher")
	}
	_ = c.SetClientKey(0, keyFilledWith(1))
	_ = c.SetClientKey(1, keyFilledWith(2))
	_ = c.SetServerKey(0, keyFilledWith(3))
	if c.AllKeysSet() {
		t.Fatal("AllKeysSet() = true with only three of four keys set")
	}
	_ = c.SetServerKey(1, keyFilledWith(4))
	if !c.AllKeysSet() {
		t.Fatal("AllKeysSet() = false with all four keys set")
	}
}

func TestSetKeyRejectsInvalidIndexWithErrCrypto(t *testing.T) {
	c := New()
	if err := c.SetClientKey(2, keyFilledWith(1)); !errors.Is(err, protoerr.ErrCrypto) {
		t.Fatalf("SetClientKey(2, ...) error = %v, want wrapping protoerr.ErrCrypto", err)
	}
	if err := c.SetServerKey(-1, keyFilledWith(1)); !errors.Is(err, protoerr.ErrCrypto) {
		t.Fatalf("SetServerKey(-1, ...) error = %v, want wrapping protoerr.ErrCrypto", err)
	}
}

func TestInitPanicsBeforeAllKeysSet(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Init() did not panic with keys missing")
		}
	}()
	New().Init()
}

func TestEncryptPanicsBeforeInit(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Encrypt() did not panic before Init")
		}
	}()
	New().Encrypt([]byte("hello"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 4, 128, 129, 4096} {
		c := readyCipher()
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(i)
		}
		buf := append([]byte{}, plain...)
		c.Encrypt(buf)
		c.Decrypt(buf)
		for i := range plain {
			if buf[i] != plain[i] {
				t.Fatalf("size=%d: round trip mismatch at byte %d: got %d, want %d", size, i, buf[i], plain[i])
			}
		}
	}
}

func TestEncryptAdvancesKeyBetweenCalls(t *testing.T) {
	c := readyCipher()
	msg := []byte("repeated message")
	first := append([]byte{}, msg...)
	second := append([]byte{}, msg...)

	c.Encrypt(first)
	c.Encrypt(second)

	equal := true
	for i := range first {
		if first[i] != second[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatal("two successive Encrypt calls with identical plaintext produced identical ciphertext; key did not advance")
	}
}

func TestEncryptAndDecryptKeysEvolveIndependently(t *testing.T) {
	c := readyCipher()

	// Encrypt twice (evolving encKey twice), then decrypt only the first
	// ciphertext. decKey must still be at its initial position to recover
	// the first plaintext correctly, proving the two tables are tracked
	// separately rather than sharing one evolving key.
	first := []byte("first message")
	second := []byte("second message, different length")

	firstCipher := append([]byte{}, first...)
	c.Encrypt(firstCipher)
	secondCipher := append([]byte{}, second...)
	c.Encrypt(secondCipher)

	decoded := append([]byte{}, firstCipher...)
	c.Decrypt(decoded)
	for i := range first {
		if decoded[i] != first[i] {
			t.Fatalf("byte %d: got %d, want %d — encKey/decKey are not independent", i, decoded[i], first[i])
		}
	}
}
