package wire

import (
	"encoding/binary"
	"errors"
)

// ChunkHeaderSize is the fixed chunk-framing header length:
// packet_id(16) | chunk_index(2) | chunk_count(2).
const ChunkHeaderSize = 16 + 2 + 2

var (
	ErrShortChunk       = errors.New("wire: buffer too short for chunk header")
	ErrChunkIndexRange  = errors.New("wire: chunk_index out of range for chunk_count")
	ErrChunkCountZero   = errors.New("wire: chunk_count must be non-zero")
)

// Chunk is one fragmentation unit of a wire packet too large to fit a
// single NetSim frame.
type Chunk struct {
	PacketID   [16]byte
	ChunkIndex uint16
	ChunkCount uint16
	Bytes      []byte
}

// EncodeChunk serializes c to its wire form.
func EncodeChunk(c Chunk) []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Bytes))
	copy(buf[0:16], c.PacketID[:])
	binary.BigEndian.PutUint16(buf[16:18], c.ChunkIndex)
	binary.BigEndian.PutUint16(buf[18:20], c.ChunkCount)
	copy(buf[ChunkHeaderSize:], c.Bytes)
	return buf
}

// DecodeChunk parses a chunk out of buf.
func DecodeChunk(buf []byte) (Chunk, error) {
	if len(buf) < ChunkHeaderSize {
		return Chunk{}, ErrShortChunk
	}
	var c Chunk
	copy(c.PacketID[:], buf[0:16])
	c.ChunkIndex = binary.BigEndian.Uint16(buf[16:18])
	c.ChunkCount = binary.BigEndian.Uint16(buf[18:20])
	if c.ChunkCount == 0 {
		return Chunk{}, ErrChunkCountZero
	}
	if c.ChunkIndex >= c.ChunkCount {
		return Chunk{}, ErrChunkIndexRange
	}
	c.Bytes = make([]byte, len(buf)-ChunkHeaderSize)
	copy(c.Bytes, buf[ChunkHeaderSize:])
	return c, nil
}

// Fragment splits encodedPacket into chunks of at most maxChunkBytes
// payload bytes each, all sharing packetID. A payload that fits in a
// single chunk still yields a ChunkCount of 1.
func Fragment(packetID [16]byte, encodedPacket []byte, maxChunkBytes int) []Chunk {
	if maxChunkBytes <= 0 {
		maxChunkBytes = len(encodedPacket)
		if maxChunkBytes == 0 {
			maxChunkBytes = 1
		}
	}
	count := (len(encodedPacket) + maxChunkBytes - 1) / maxChunkBytes
	if count == 0 {
		count = 1
	}
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxChunkBytes
		end := start + maxChunkBytes
		if end > len(encodedPacket) {
			end = len(encodedPacket)
		}
		chunks = append(chunks, Chunk{
			PacketID:   packetID,
			ChunkIndex: uint16(i),
			ChunkCount: uint16(count),
			Bytes:      encodedPacket[start:end],
		})
	}
	return chunks
}
