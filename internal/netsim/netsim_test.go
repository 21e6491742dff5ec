package netsim

import (
	"context"
	"testing"
	"time"

	"github.com/capsulemesh/hub/internal/wire"
)

func TestConfigStore_SnapshotReflectsUpdate(t *testing.T) {
	s := NewConfigStore(DefaultConfig())
	before := s.Snapshot()
	if before.LossProbability != 0.05 {
		t.Fatalf("LossProbability = %v, want 0.05", before.LossProbability)
	}

	after := s.Update(func(c *Config) { c.LossProbability = 0.2 })
	if after.LossProbability != 0.2 {
		t.Errorf("Update returned LossProbability = %v, want 0.2", after.LossProbability)
	}
	if s.Snapshot().LossProbability != 0.2 {
		t.Errorf("Snapshot after Update = %v, want 0.2", s.Snapshot().LossProbability)
	}
	if before.LossProbability != 0.05 {
		t.Errorf("earlier snapshot mutated, got %v", before.LossProbability)
	}
}

func TestConfigStore_UpdateRejectsInvalidCandidate(t *testing.T) {
	s := NewConfigStore(DefaultConfig())
	result := s.Update(func(c *Config) { c.BandwidthBytesPerSec = -1 })
	if result.BandwidthBytesPerSec != DefaultConfig().BandwidthBytesPerSec {
		t.Errorf("invalid update should have been discarded, got %v", result)
	}
	if s.Snapshot().BandwidthBytesPerSec != DefaultConfig().BandwidthBytesPerSec {
		t.Errorf("store retained an invalid config: %v", s.Snapshot())
	}
}

func TestConfig_AckTimeoutAndReassemblyTimeout(t *testing.T) {
	c := Config{BaseLatencyMS: 250, LatencyJitterMS: 100, ReorderWindowMS: 50}
	if got := c.AckTimeout(); got != 800 {
		t.Errorf("AckTimeout() = %d, want 800", got)
	}
	if got := c.ReassemblyTimeout(); got != 600 {
		t.Errorf("ReassemblyTimeout() = %d, want 600", got)
	}
}

func TestBandwidthLimiter_WaitPacesLargeTransfers(t *testing.T) {
	l := NewBandwidthLimiter(1000, 100) // 1000 bytes/sec, burst 100
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, 100); err != nil { // fits in burst, should not block meaningfully
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first Wait within burst took %v, expected near-instant", elapsed)
	}

	start = time.Now()
	if err := l.Wait(ctx, 500); err != nil { // exceeds burst, must pace
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Wait for 500 bytes at 1000 B/s returned too fast: %v", elapsed)
	}
}

func TestBandwidthLimiter_SetRateAppliesImmediately(t *testing.T) {
	l := NewBandwidthLimiter(1000, 1000)
	l.SetRate(5000)

	ctx := context.Background()
	start := time.Now()
	if err := l.Wait(ctx, 1000); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Wait after raising rate took %v, expected fast admission", elapsed)
	}
}

func TestReassembler_AddChunkCompletesOnLastChunk(t *testing.T) {
	r := newReassembler()
	packetID := wire.NewPacketID()

	out, complete := r.AddChunk("mini-1", wire.Chunk{PacketID: packetID, ChunkIndex: 0, ChunkCount: 2, Bytes: []byte("hel")}, time.Second, nil)
	if complete {
		t.Fatal("expected incomplete after first chunk")
	}
	if out != nil {
		t.Errorf("expected nil output while incomplete, got %v", out)
	}

	out, complete = r.AddChunk("mini-1", wire.Chunk{PacketID: packetID, ChunkIndex: 1, ChunkCount: 2, Bytes: []byte("lo")}, time.Second, nil)
	if !complete {
		t.Fatal("expected complete after second chunk")
	}
	if string(out) != "hello" {
		t.Errorf("reassembled = %q, want %q", out, "hello")
	}
}

func TestReassembler_ExpiresIncompleteBufferAfterTimeout(t *testing.T) {
	r := newReassembler()
	packetID := wire.NewPacketID()

	expired := make(chan struct{}, 1)
	_, complete := r.AddChunk("mini-1", wire.Chunk{PacketID: packetID, ChunkIndex: 0, ChunkCount: 2, Bytes: []byte("a")}, 20*time.Millisecond, func() {
		expired <- struct{}{}
	})
	if complete {
		t.Fatal("expected incomplete with only one of two chunks")
	}

	select {
	case <-expired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected reassembly buffer to expire")
	}
}

func TestReassembler_IndependentPacketIDsDoNotInterfere(t *testing.T) {
	r := newReassembler()
	a := wire.NewPacketID()
	b := wire.NewPacketID()

	r.AddChunk("mini-1", wire.Chunk{PacketID: a, ChunkIndex: 0, ChunkCount: 1, Bytes: []byte("a")}, time.Second, nil)
	out, complete := r.AddChunk("mini-1", wire.Chunk{PacketID: b, ChunkIndex: 0, ChunkCount: 1, Bytes: []byte("b")}, time.Second, nil)
	if !complete || string(out) != "b" {
		t.Errorf("second packet_id's single chunk should complete independently, got %q complete=%v", out, complete)
	}
}
