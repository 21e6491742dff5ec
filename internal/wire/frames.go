package wire

import (
	"encoding/json"

	"github.com/capsulemesh/hub/internal/capsule"
)

// QueryFrame is the JSON payload carried inside a QUERY packet's AEAD
// ciphertext (§4.4 step 2).
type QueryFrame struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
	PacketID string `json:"packet_id"`
	ReplyTo  string `json:"reply_to"`
}

// CapsuleRequestFrame is the JSON payload of a CAPSULE_REQUEST packet
// (§4.6): a single capsule_id a peer is missing from its manifest diff.
type CapsuleRequestFrame struct {
	CapsuleID string `json:"capsule_id"`
}

// EncodeJSON marshals v for use as a frame's plaintext payload.
func EncodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeQueryFrame unmarshals a QUERY packet's decrypted payload.
func DecodeQueryFrame(plaintext []byte) (QueryFrame, error) {
	var f QueryFrame
	err := json.Unmarshal(plaintext, &f)
	return f, err
}

// DecodeCapsuleRequestFrame unmarshals a CAPSULE_REQUEST packet's
// decrypted payload.
func DecodeCapsuleRequestFrame(plaintext []byte) (CapsuleRequestFrame, error) {
	var f CapsuleRequestFrame
	err := json.Unmarshal(plaintext, &f)
	return f, err
}

// DecodeCapsule unmarshals a CAPSULE packet's decrypted payload.
func DecodeCapsule(plaintext []byte) (*capsule.KnowledgeCapsule, error) {
	var c capsule.KnowledgeCapsule
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DecodeManifest unmarshals a MANIFEST packet's decrypted payload.
func DecodeManifest(plaintext []byte) (*capsule.Manifest, error) {
	var m capsule.Manifest
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
