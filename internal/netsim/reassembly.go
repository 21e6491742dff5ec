package netsim

import (
	"sync"
	"time"

	"github.com/capsulemesh/hub/internal/wire"
)

// reassemblyBuffer accumulates chunks for one packet_id at one
// destination, tracking the per-packet state machine ASSEMBLING →
// (COMPLETE | EXPIRED) from §4.1.
type reassemblyBuffer struct {
	chunkCount uint16
	chunks     map[uint16][]byte
	timer      *time.Timer
}

// reassembler buffers in-flight fragments keyed by (dst, packet_id) until
// every chunk index is present or the reassembly_timeout elapses.
type reassembler struct {
	mu      sync.Mutex
	buffers map[string]*reassemblyBuffer
}

func newReassembler() *reassembler {
	return &reassembler{buffers: make(map[string]*reassemblyBuffer)}
}

func reassemblyKey(dst string, packetID [16]byte) string {
	return dst + ":" + string(packetID[:])
}

// AddChunk records c's bytes for dst. It returns the fully reassembled
// packet bytes once every chunk_count distinct index has arrived, and
// cancels the expiry timer either way once delivery is resolved.
func (r *reassembler) AddChunk(dst string, c wire.Chunk, timeout time.Duration, onExpire func()) ([]byte, bool) {
	key := reassemblyKey(dst, c.PacketID)

	r.mu.Lock()
	buf, ok := r.buffers[key]
	if !ok {
		buf = &reassemblyBuffer{
			chunkCount: c.ChunkCount,
			chunks:     make(map[uint16][]byte, c.ChunkCount),
		}
		buf.timer = time.AfterFunc(timeout, func() {
			r.expire(key, onExpire)
		})
		r.buffers[key] = buf
	}
	buf.chunks[c.ChunkIndex] = c.Bytes

	complete := len(buf.chunks) == int(buf.chunkCount)
	if complete {
		buf.timer.Stop()
		delete(r.buffers, key)
	}
	r.mu.Unlock()

	if !complete {
		return nil, false
	}

	out := make([]byte, 0, len(buf.chunks)*len(c.Bytes))
	for i := uint16(0); i < buf.chunkCount; i++ {
		out = append(out, buf.chunks[i]...)
	}
	return out, true
}

func (r *reassembler) expire(key string, onExpire func()) {
	r.mu.Lock()
	_, existed := r.buffers[key]
	delete(r.buffers, key)
	r.mu.Unlock()

	if existed && onExpire != nil {
		onExpire()
	}
}
