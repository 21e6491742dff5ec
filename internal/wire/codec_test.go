package wire

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	key := testKey()
	packetID := NewPacketID()
	src := idHash("mini-hub-1")
	dst := idHash("main-hub-1")
	plaintext := []byte(`{"question":"what is the torque spec?"}`)

	p, err := Encode(TypeQuery, packetID, src, dst, key, plaintext)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(p, key)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decoded plaintext mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecode_RejectsWrongKey(t *testing.T) {
	key := testKey()
	wrongKey := make([]byte, 32)

	p, err := Encode(TypeQuery, NewPacketID(), idHash("a"), idHash("b"), key, []byte("payload"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := Decode(p, wrongKey); err == nil {
		t.Error("expected decryption failure with wrong key")
	}
}

func TestDecode_RejectsTamperedHeader(t *testing.T) {
	key := testKey()
	p, err := Encode(TypeQuery, NewPacketID(), idHash("a"), idHash("b"), key, []byte("payload"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	p.Header.Type = TypeCapsule // tamper with AAD-covered field

	if _, err := Decode(p, key); err == nil {
		t.Error("expected decryption failure after tampering with header type")
	}
}

func TestEncodeDecode_NoncesAreUnique(t *testing.T) {
	key := testKey()
	p1, _ := Encode(TypeQuery, NewPacketID(), idHash("a"), idHash("b"), key, []byte("same"))
	p2, _ := Encode(TypeQuery, NewPacketID(), idHash("a"), idHash("b"), key, []byte("same"))

	if p1.Header.Nonce == p2.Header.Nonce {
		t.Error("expected distinct random nonces across encodings")
	}
}
