package wire

import "testing"

func TestEncodeDecodeHeader_RoundTrips(t *testing.T) {
	h := Header{
		Version:    WireVersion,
		Type:       TypeQuery,
		Flags:      0,
		PacketID:   NewPacketID(),
		SrcID:      idHash("mini-hub-1"),
		DstID:      idHash("main-hub-1"),
		PayloadLen: 42,
	}
	copy(h.Nonce[:], []byte("abcdefghijkl"))

	buf := EncodeHeader(h)
	if len(buf) != HeaderSize {
		t.Fatalf("expected encoded header length %d, got %d", HeaderSize, len(buf))
	}

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if got != h {
		t.Errorf("round-tripped header mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestDecodeHeader_RejectsShortBuffer(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err != ErrShortHeader {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
}

func TestDecodeHeader_RejectsUnsupportedVersion(t *testing.T) {
	h := Header{Version: 7, Type: TypeQuery}
	buf := EncodeHeader(h)
	if _, err := DecodeHeader(buf); err != ErrUnsupportedVersion {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestEncodeDecodePacket_RoundTrips(t *testing.T) {
	p := Packet{
		Header: Header{
			Version:  WireVersion,
			Type:     TypeCapsule,
			PacketID: NewPacketID(),
			SrcID:    idHash("main-hub-1"),
			DstID:    idHash("mini-hub-2"),
		},
		Ciphertext: []byte("ciphertext-and-tag-placeholder-"),
	}

	buf := EncodePacket(p)
	got, err := DecodePacket(buf)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if string(got.Ciphertext) != string(p.Ciphertext) {
		t.Errorf("ciphertext mismatch: got %q want %q", got.Ciphertext, p.Ciphertext)
	}
	if got.Header.Type != TypeCapsule {
		t.Errorf("expected type CAPSULE, got %v", got.Header.Type)
	}
}

func TestDecodePacket_RejectsPayloadLenMismatch(t *testing.T) {
	p := Packet{
		Header:     Header{Version: WireVersion, Type: TypeAck},
		Ciphertext: []byte("1234567890"),
	}
	buf := EncodePacket(p)
	buf = append(buf, []byte("extra-trailing-bytes")...)

	if _, err := DecodePacket(buf); err != ErrPayloadLenMismatch {
		t.Errorf("expected ErrPayloadLenMismatch, got %v", err)
	}
}

func TestIDFromString_Deterministic(t *testing.T) {
	a := IDFromString("mini-hub-1")
	b := IDFromString("mini-hub-1")
	c := IDFromString("mini-hub-2")
	if a != b {
		t.Error("expected identical inputs to hash identically")
	}
	if a == c {
		t.Error("expected distinct node ids to hash differently")
	}
}
