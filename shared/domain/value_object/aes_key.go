package value_object

import (
	"crypto/rand"
	"fmt"
)

// AESKeySize is the length of a hop key: AES-256.
const AESKeySize = 32

// AESKey is the symmetric key one hop shares with the client for one
// request. The client draws a fresh one per hop per request and each relay
// learns only its own, from its RSA-wrapped layer.
type AESKey [AESKeySize]byte

// NewAESKey draws a key from crypto/rand.
func NewAESKey() (AESKey, error) {
	var k AESKey
	if _, err := rand.Read(k[:]); err != nil {
		return AESKey{}, fmt.Errorf("aes key: %w", err)
	}
	return k, nil
}

// AESKeyFrom copies b, which must be exactly AESKeySize bytes.
func AESKeyFrom(b []byte) (AESKey, error) {
	if len(b) != AESKeySize {
		return AESKey{}, fmt.Errorf("aes key: want %d bytes, got %d", AESKeySize, len(b))
	}
	var k AESKey
	copy(k[:], b)
	return k, nil
}

// Wipe zeroes the key in place. 使い終わった鍵はすぐ消す
func (k *AESKey) Wipe() { *k = AESKey{} }
