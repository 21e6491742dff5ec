package capcrypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
)

// Ed25519KeyPair is a node's signing identity. Main hubs sign capsules and
// manifests with PrivateKey; every holder of PublicKey can verify them.
type Ed25519KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// X25519KeyPair is an ephemeral keypair used only by the pluggable session
// key upgrade path described for AeadKeyFor; the baseline packet path never
// touches this type.
type X25519KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// SessionKeys holds keys derived from an X25519 exchange, for peers that
// have opted into the upgrade path instead of a static pre-shared key.
type SessionKeys struct {
	PacketKey [32]byte // AES-256 key for packet payload encryption
	IVBase    [12]byte // base nonce material combined with a counter
}

// KeystoreEntry is the on-disk, Argon2id-encrypted representation of a
// node's Ed25519 private key.
type KeystoreEntry struct {
	Version       int    `json:"version"`
	KDF           string `json:"kdf"`
	Argon2Time    int    `json:"argon2_time"`
	Argon2Memory  int    `json:"argon2_memory"`
	Argon2Threads int    `json:"argon2_threads"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// Fingerprint computes a SHA-256 fingerprint of a public key, a printable
// stand-in for raw key material.
func Fingerprint(publicKey ed25519.PublicKey) string {
	hash := sha256.Sum256(publicKey)
	return "SHA256:" + hex.EncodeToString(hash[:])
}
