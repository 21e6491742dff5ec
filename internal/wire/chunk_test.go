package wire

import "testing"

func TestFragment_SingleChunkWhenSmall(t *testing.T) {
	packetID := NewPacketID()
	chunks := Fragment(packetID, []byte("small payload"), 1024)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkCount != 1 || chunks[0].ChunkIndex != 0 {
		t.Errorf("unexpected chunk indexing: %+v", chunks[0])
	}
}

func TestFragment_SplitsAcrossMultipleChunks(t *testing.T) {
	packetID := NewPacketID()
	payload := make([]byte, 250)
	for i := range payload {
		payload[i] = byte(i)
	}

	chunks := Fragment(packetID, payload, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	var reassembled []byte
	for i, c := range chunks {
		if int(c.ChunkIndex) != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.ChunkCount != 3 {
			t.Errorf("chunk %d has chunk_count %d, want 3", i, c.ChunkCount)
		}
		reassembled = append(reassembled, c.Bytes...)
	}
	if string(reassembled) != string(payload) {
		t.Error("reassembled bytes do not match original payload")
	}
}

func TestEncodeDecodeChunk_RoundTrips(t *testing.T) {
	c := Chunk{
		PacketID:   NewPacketID(),
		ChunkIndex: 1,
		ChunkCount: 3,
		Bytes:      []byte("chunk-payload"),
	}
	buf := EncodeChunk(c)
	got, err := DecodeChunk(buf)
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	if got.PacketID != c.PacketID || got.ChunkIndex != c.ChunkIndex || got.ChunkCount != c.ChunkCount {
		t.Errorf("round-tripped chunk header mismatch: got %+v want %+v", got, c)
	}
	if string(got.Bytes) != string(c.Bytes) {
		t.Errorf("round-tripped chunk bytes mismatch: got %q want %q", got.Bytes, c.Bytes)
	}
}

func TestDecodeChunk_RejectsIndexOutOfRange(t *testing.T) {
	c := Chunk{PacketID: NewPacketID(), ChunkIndex: 5, ChunkCount: 3, Bytes: []byte("x")}
	buf := EncodeChunk(c)
	if _, err := DecodeChunk(buf); err != ErrChunkIndexRange {
		t.Errorf("expected ErrChunkIndexRange, got %v", err)
	}
}

func TestDecodeChunk_RejectsZeroCount(t *testing.T) {
	c := Chunk{PacketID: NewPacketID(), ChunkIndex: 0, ChunkCount: 0, Bytes: []byte("x")}
	buf := EncodeChunk(c)
	if _, err := DecodeChunk(buf); err != ErrChunkCountZero {
		t.Errorf("expected ErrChunkCountZero, got %v", err)
	}
}
