package capsule

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrManifestSignatureInvalid = errors.New("capsule: manifest signature verification failed")

// ManifestEntry summarizes one capsule for gossip purposes, without
// shipping its question/answer bodies.
type ManifestEntry struct {
	CapsuleID    string `json:"capsule_id"`
	QuestionHash string `json:"question_hash"`
	CreatedAt    int64  `json:"created_at"`
	TTLSeconds   int64  `json:"ttl_seconds"`
}

// Manifest is the signed inventory a hub gossips to its peers so they can
// diff it against their own store and selectively request what's missing.
type Manifest struct {
	SourceID    string          `json:"source_id"`
	GeneratedAt int64           `json:"generated_at"`
	Entries     []ManifestEntry `json:"entries"`
	Signature   []byte          `json:"signature"`
}

// manifestEntrySigningPayload and manifestSigningPayload render timestamps
// as RFC3339 with millisecond precision and a Z suffix, matching the wire
// contract, even though the in-memory fields are int64 millisecond counts.
type manifestEntrySigningPayload struct {
	CapsuleID    string `json:"capsule_id"`
	QuestionHash string `json:"question_hash"`
	CreatedAt    string `json:"created_at"`
}

type manifestSigningPayload struct {
	SourceID    string                        `json:"source_id"`
	GeneratedAt string                        `json:"generated_at"`
	Entries     []manifestEntrySigningPayload `json:"entries"`
}

// NewManifest builds and signs a manifest over entries as of generatedAt
// (Unix milliseconds).
func NewManifest(sourceID string, generatedAt int64, entries []ManifestEntry, signKey ed25519.PrivateKey) (*Manifest, error) {
	if sourceID == "" {
		return nil, ErrEmptySourceID
	}
	m := &Manifest{
		SourceID:    sourceID,
		GeneratedAt: generatedAt,
		Entries:     entries,
	}
	payload, err := m.canonicalBytes()
	if err != nil {
		return nil, err
	}
	m.Signature = ed25519.Sign(signKey, payload)
	return m, nil
}

func (m *Manifest) canonicalBytes() ([]byte, error) {
	entries := make([]manifestEntrySigningPayload, len(m.Entries))
	for i, e := range m.Entries {
		entries[i] = manifestEntrySigningPayload{
			CapsuleID:    e.CapsuleID,
			QuestionHash: e.QuestionHash,
			CreatedAt:    millisToRFC3339(e.CreatedAt),
		}
	}
	payload := manifestSigningPayload{
		SourceID:    m.SourceID,
		GeneratedAt: millisToRFC3339(m.GeneratedAt),
		Entries:     entries,
	}
	return json.Marshal(payload)
}

// Verify checks the manifest's Ed25519 signature against verifyKey.
func (m *Manifest) Verify(verifyKey ed25519.PublicKey) error {
	payload, err := m.canonicalBytes()
	if err != nil {
		return fmt.Errorf("capsule: encode canonical manifest: %w", err)
	}
	if !ed25519.Verify(verifyKey, payload, m.Signature) {
		return ErrManifestSignatureInvalid
	}
	return nil
}

// Diff returns the entries present in remote but absent (by CapsuleID) from
// the receiver, the set a mini hub should request after comparing manifests.
func (m *Manifest) Diff(remote *Manifest) []ManifestEntry {
	have := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		have[e.CapsuleID] = struct{}{}
	}
	var missing []ManifestEntry
	for _, e := range remote.Entries {
		if _, ok := have[e.CapsuleID]; !ok {
			missing = append(missing, e)
		}
	}
	return missing
}
