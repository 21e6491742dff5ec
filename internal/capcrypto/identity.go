package capcrypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Identity bundles a node's signing key with the trust material it needs to
// verify peers and encrypt packets: §6 configuration's
// {node_id, ed25519_sign_key, ed25519_verify_keys_by_source, aead_keys_by_peer}.
type Identity struct {
	NodeID        string
	SignKey       ed25519.PrivateKey
	VerifyKeys    map[string]ed25519.PublicKey // source_id -> trusted verify key
	staticAEADKey map[string][32]byte          // peer id -> pre-shared AEAD key
	sessionKeys   map[string]*SessionKeys       // peer id -> derived session keys (upgrade path)
}

// NewIdentity builds an Identity for nodeID around an existing keypair.
func NewIdentity(nodeID string, signKey ed25519.PrivateKey) *Identity {
	return &Identity{
		NodeID:        nodeID,
		SignKey:       signKey,
		VerifyKeys:    make(map[string]ed25519.PublicKey),
		staticAEADKey: make(map[string][32]byte),
		sessionKeys:   make(map[string]*SessionKeys),
	}
}

// TrustSource registers source's public key as a trusted signer. Capsules
// and manifests from source only verify if this has been called.
func (id *Identity) TrustSource(sourceID string, verifyKey ed25519.PublicKey) {
	id.VerifyKeys[sourceID] = verifyKey
}

// SetStaticAEADKey installs a pre-shared 256-bit key for peer, the baseline
// per-sender-receiver key establishment described in §4.2.
func (id *Identity) SetStaticAEADKey(peer string, key [32]byte) {
	id.staticAEADKey[peer] = key
}

// SetSessionKeys installs HKDF-derived session keys for peer, used only
// once a caller has opted into the §9 X25519 upgrade path.
func (id *Identity) SetSessionKeys(peer string, keys *SessionKeys) {
	id.sessionKeys[peer] = keys
}

// AeadKeyFor resolves the AEAD key to use for peer. Session keys, when
// present, take precedence over the static pre-shared key so a caller can
// migrate a peer to the upgrade path without touching codec or hub logic.
func (id *Identity) AeadKeyFor(peer string) ([]byte, bool) {
	if sk, ok := id.sessionKeys[peer]; ok {
		key := sk.PacketKey
		return key[:], true
	}
	if key, ok := id.staticAEADKey[peer]; ok {
		return key[:], true
	}
	return nil, false
}

// VerifyKeyFor resolves the trusted Ed25519 verify key for sourceID, or
// false if sourceID is not a registered authority.
func (id *Identity) VerifyKeyFor(sourceID string) (ed25519.PublicKey, bool) {
	k, ok := id.VerifyKeys[sourceID]
	return k, ok
}

// DecodeVerifyKey parses a base64-encoded Ed25519 public key, the
// on-disk form trust files carry for ed25519_verify_keys_by_source.
func DecodeVerifyKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode verify key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verify key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DefaultPaths returns the conventional private/public key paths for a node.
func DefaultPaths() (privPath, pubPath string, err error) {
	h, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	dir := filepath.Join(h, ".capsulemesh")
	return filepath.Join(dir, "id_ed25519"), filepath.Join(dir, "id_ed25519.pub"), nil
}

// LoadOrCreateEd25519 loads a node's identity keypair from disk, generating
// and persisting a fresh one if none exists yet.
func LoadOrCreateEd25519(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if privPath == "" {
		p, u, err := DefaultPaths()
		if err != nil {
			return nil, nil, err
		}
		privPath, pubPath = p, u
	}
	if pubPath == "" {
		pubPath = privPath + ".pub"
	}

	priv, pub, err := loadKeyFiles(privPath, pubPath)
	if err == nil {
		return priv, pub, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	kp, err := GenerateEd25519()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(privPath), 0700); err != nil {
		return nil, nil, err
	}
	if err := writeKeyFiles(privPath, pubPath, kp.PrivateKey, kp.PublicKey); err != nil {
		return nil, nil, err
	}
	return kp.PrivateKey, kp.PublicKey, nil
}

func loadKeyFiles(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, err
	}
	pubBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, err
	}

	priv, err := decodeB64(privBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid private key: %w", err)
	}
	pub, err := decodeB64(pubBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid public key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("bad key sizes")
	}
	return ed25519.PrivateKey(priv), ed25519.PublicKey(pub), nil
}

func writeKeyFiles(privPath, pubPath string, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	if err := os.WriteFile(privPath, encodeB64(priv), 0600); err != nil {
		return err
	}
	return os.WriteFile(pubPath, encodeB64(pub), 0644)
}

func encodeB64(k []byte) []byte { return []byte(base64.StdEncoding.EncodeToString(k)) }

func decodeB64(b []byte) ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(trimSpace(b)))
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool { return c == ' ' || c == '\n' || c == '\r' || c == '\t' }
