package wire

import (
	"fmt"

	"github.com/capsulemesh/hub/internal/capcrypto"
)

// Encode builds and encrypts a full wire packet: plaintext is sealed under
// key with a fresh random nonce (§4.2's baseline per-sender-receiver PSK
// path), and the nonce is carried in the header alongside src/dst/type.
func Encode(packetType PacketType, packetID, srcID, dstID [16]byte, key []byte, plaintext []byte) (Packet, error) {
	nonce, err := capcrypto.RandomNonce()
	if err != nil {
		return Packet{}, fmt.Errorf("wire: generate nonce: %w", err)
	}

	aad := EncodeHeader(Header{
		Version:  WireVersion,
		Type:     packetType,
		PacketID: packetID,
		SrcID:    srcID,
		DstID:    dstID,
		Nonce:    nonce,
	})

	ciphertext, err := capcrypto.Seal(key, nonce[:], aad, plaintext)
	if err != nil {
		return Packet{}, fmt.Errorf("wire: seal payload: %w", err)
	}

	return Packet{
		Header: Header{
			Version:    WireVersion,
			Type:       packetType,
			PacketID:   packetID,
			SrcID:      srcID,
			DstID:      dstID,
			Nonce:      nonce,
			PayloadLen: uint32(len(ciphertext)),
		},
		Ciphertext: ciphertext,
	}, nil
}

// Decode verifies and decrypts p's ciphertext under key, returning the
// plaintext payload. The header (sans payload_len, which is recomputed)
// serves as AEAD associated data so tampering with type/src/dst/nonce is
// detected as a decryption failure, per §4.2.
func Decode(p Packet, key []byte) ([]byte, error) {
	aad := EncodeHeader(Header{
		Version:  p.Header.Version,
		Type:     p.Header.Type,
		Flags:    p.Header.Flags,
		PacketID: p.Header.PacketID,
		SrcID:    p.Header.SrcID,
		DstID:    p.Header.DstID,
		Nonce:    p.Header.Nonce,
	})
	plaintext, err := capcrypto.Open(key, p.Header.Nonce[:], aad, p.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("wire: decrypt failed: %w", err)
	}
	return plaintext, nil
}
