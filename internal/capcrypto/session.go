package capcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	sessionInfoString = "capsulemesh-v1-session"
	hkdfOutputLength  = 44 // 32 (PacketKey) + 12 (IVBase)
)

// DeriveSessionKeys derives a PacketKey and IVBase from an X25519 shared
// secret via HKDF-SHA256. This backs the pluggable AeadKeyFor upgrade path
// described in §9: the codec and hub logic never need to know whether a
// peer's key came from a static PSK or this derivation.
func DeriveSessionKeys(ourPrivate, theirPublic *[32]byte, transcriptHash []byte) (*SessionKeys, error) {
	if len(transcriptHash) != 32 {
		return nil, fmt.Errorf("transcript hash must be 32 bytes, got %d", len(transcriptHash))
	}

	sharedSecret, err := X25519Exchange(ourPrivate, theirPublic)
	if err != nil {
		return nil, fmt.Errorf("ECDH exchange failed: %w", err)
	}

	reader := hkdf.New(sha256.New, sharedSecret[:], transcriptHash, []byte(sessionInfoString))
	keyMaterial := make([]byte, hkdfOutputLength)
	if _, err := io.ReadFull(reader, keyMaterial); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}

	var keys SessionKeys
	copy(keys.PacketKey[:], keyMaterial[0:32])
	copy(keys.IVBase[:], keyMaterial[32:44])
	return &keys, nil
}
