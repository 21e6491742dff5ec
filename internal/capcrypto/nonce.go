package capcrypto

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomNonce returns a fresh random 96-bit nonce for packet encryption, as
// required by §4.2 (AES-GCM-256 with a random nonce per packet).
func RandomNonce() ([12]byte, error) {
	var nonce [12]byte
	_, err := rand.Read(nonce[:])
	return nonce, err
}

// DeriveNonce generates a deterministic 12-byte nonce from an IVBase and a
// counter, for the session-key upgrade path where reusing a static key
// across many frames still needs per-frame nonce uniqueness.
func DeriveNonce(ivBase [12]byte, counter uint64) [12]byte {
	var nonce [12]byte
	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], counter)
	for i := 0; i < 8; i++ {
		nonce[i] = ivBase[i] ^ counterBytes[i]
	}
	copy(nonce[8:12], ivBase[8:12])
	return nonce
}
