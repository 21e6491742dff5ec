// Package wire implements the bit-level packet and chunk framing that
// crosses the network simulator: fixed-size binary headers, AEAD
// ciphertext, and the fragmentation contract reassembly depends on.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// PacketType enumerates the frame kinds exchanged between hubs.
type PacketType uint8

const (
	TypeQuery PacketType = iota + 1
	TypeCapsule
	TypeAck
	TypeNak
	TypeManifest
	TypeCapsuleRequest
)

func (t PacketType) String() string {
	switch t {
	case TypeQuery:
		return "QUERY"
	case TypeCapsule:
		return "CAPSULE"
	case TypeAck:
		return "ACK"
	case TypeNak:
		return "NAK"
	case TypeManifest:
		return "MANIFEST"
	case TypeCapsuleRequest:
		return "CAPSULE_REQUEST"
	default:
		return "UNKNOWN"
	}
}

const (
	WireVersion = 1

	// HeaderSize is the fixed packet header length in bytes:
	// version(1) | type(1) | flags(1) | reserved(1) | packet_id(16) |
	// src_id(16) | dst_id(16) | nonce(12) | payload_len(4).
	HeaderSize = 1 + 1 + 1 + 1 + 16 + 16 + 16 + 12 + 4

	// IDSize is the byte length of src_id/dst_id: a hash, not a raw
	// string node name.
	IDSize = 16

	// NonceSize is the AEAD nonce length (96 bits).
	NonceSize = 12

	// AuthTagSize is the trailing GCM authentication tag length.
	AuthTagSize = 16
)

var (
	ErrShortHeader     = errors.New("wire: buffer too short for packet header")
	ErrUnsupportedVersion = errors.New("wire: unsupported packet version")
	ErrPayloadLenMismatch = errors.New("wire: payload_len does not match buffer")
)

// Header is the fixed-size packet header preceding AEAD ciphertext.
type Header struct {
	Version    uint8
	Type       PacketType
	Flags      uint8
	PacketID   [16]byte
	SrcID      [IDSize]byte
	DstID      [IDSize]byte
	Nonce      [NonceSize]byte
	PayloadLen uint32
}

// Packet is a fully decoded wire packet: header plus AEAD ciphertext
// (including its trailing auth tag).
type Packet struct {
	Header     Header
	Ciphertext []byte // ciphertext with its trailing 16-byte auth tag; payload_len counts both
}

// NewPacketID returns a fresh random packet identifier.
func NewPacketID() [16]byte {
	var id [16]byte
	copy(id[:], uuid.New()[:])
	return id
}

// EncodeHeader writes h in the fixed big-endian layout described in the
// wire contract.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	buf[2] = h.Flags
	buf[3] = 0 // reserved
	off := 4
	copy(buf[off:off+16], h.PacketID[:])
	off += 16
	copy(buf[off:off+IDSize], h.SrcID[:])
	off += IDSize
	copy(buf[off:off+IDSize], h.DstID[:])
	off += IDSize
	copy(buf[off:off+NonceSize], h.Nonce[:])
	off += NonceSize
	binary.BigEndian.PutUint32(buf[off:off+4], h.PayloadLen)
	return buf
}

// DecodeHeader parses the fixed header from the front of buf.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, ErrShortHeader
	}
	h.Version = buf[0]
	if h.Version != WireVersion {
		return h, ErrUnsupportedVersion
	}
	h.Type = PacketType(buf[1])
	h.Flags = buf[2]
	off := 4
	copy(h.PacketID[:], buf[off:off+16])
	off += 16
	copy(h.SrcID[:], buf[off:off+IDSize])
	off += IDSize
	copy(h.DstID[:], buf[off:off+IDSize])
	off += IDSize
	copy(h.Nonce[:], buf[off:off+NonceSize])
	off += NonceSize
	h.PayloadLen = binary.BigEndian.Uint32(buf[off : off+4])
	return h, nil
}

// EncodePacket serializes p to its full wire form: header followed by
// ciphertext (which already carries the trailing auth tag).
func EncodePacket(p Packet) []byte {
	p.Header.PayloadLen = uint32(len(p.Ciphertext))
	out := EncodeHeader(p.Header)
	return append(out, p.Ciphertext...)
}

// DecodePacket parses a full wire packet out of buf.
func DecodePacket(buf []byte) (Packet, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}
	rest := buf[HeaderSize:]
	if uint32(len(rest)) != h.PayloadLen {
		return Packet{}, ErrPayloadLenMismatch
	}
	ciphertext := make([]byte, len(rest))
	copy(ciphertext, rest)
	return Packet{Header: h, Ciphertext: ciphertext}, nil
}

// IDFromString hashes an arbitrary node identifier string down to the
// 16-byte id form carried in src_id/dst_id.
func IDFromString(s string) [IDSize]byte {
	return idHash(s)
}
