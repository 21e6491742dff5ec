package netsim

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/capsulemesh/hub/internal/observability"
	"github.com/capsulemesh/hub/internal/wire"
)

// Endpoint is the set of callbacks a registered hub receives from the
// simulator: delivery of reassembled packets and ACK/NAK feedback for
// packets it previously submitted (§6 "Delivery is push").
type Endpoint struct {
	OnPacket func(encoded []byte)
	OnAck    func(packetID [16]byte)
	OnNak    func(packetID [16]byte, chunkIndex uint16)
}

// SubmitOutcome is the synchronous result of SubmitPacket admission.
type SubmitOutcome int

const (
	Accepted SubmitOutcome = iota
	Oversized
)

// Simulator is the sole transport between hubs: it fragments, degrades,
// paces, and reassembles traffic according to a runtime-mutable Config
// (§4.1).
type Simulator struct {
	config      *ConfigStore
	bandwidth   *BandwidthLimiter
	reassembler *reassembler
	endpoints   map[string]Endpoint
	metrics     *observability.Metrics
	redundancy  *RedundancyPolicy
	down        bool

	windowMu  sync.Mutex
	windowLoss, windowTotal int64
}

// NewSimulator constructs a Simulator with the given initial configuration.
func NewSimulator(cfg Config, metrics *observability.Metrics) *Simulator {
	return &Simulator{
		config:      NewConfigStore(cfg),
		bandwidth:   NewBandwidthLimiter(cfg.BandwidthBytesPerSec, cfg.MaxChunkSizeBytes),
		reassembler: newReassembler(),
		endpoints:   make(map[string]Endpoint),
		metrics:     metrics,
		redundancy:  NewRedundancyPolicy(),
	}
}

// RegisterEndpoint attaches nodeID's callbacks so it can send and receive
// through the simulator.
func (s *Simulator) RegisterEndpoint(nodeID string, ep Endpoint) {
	s.endpoints[nodeID] = ep
}

// UpdateConfig applies fn to the live configuration (§6 admin surface).
func (s *Simulator) UpdateConfig(fn func(*Config)) Config {
	cfg := s.config.Update(fn)
	s.bandwidth.SetRate(cfg.BandwidthBytesPerSec)
	return cfg
}

// SetDown toggles NETSIM_DOWN behavior for fault injection in tests.
func (s *Simulator) SetDown(down bool) { s.down = down }

// SubmitPacket admits encoded for delivery from src to dst, fragmenting it
// per the current configuration and scheduling each chunk independently
// (§4.1 steps 1-3). Admission is synchronous; delivery is asynchronous and
// pushed to the destination's Endpoint.
func (s *Simulator) SubmitPacket(encoded []byte, src, dst string) (SubmitOutcome, error) {
	if s.down {
		return Oversized, ErrNetsimDown
	}
	if _, ok := s.endpoints[dst]; !ok {
		return Oversized, ErrUnknownDestination
	}

	cfg := s.config.Snapshot()

	if len(encoded) > cfg.MaxChunkSizeBytes && !cfg.AutoChunkLargePayloads {
		return Oversized, ErrOversized
	}

	h, err := wire.DecodeHeader(encoded)
	if err != nil {
		return Oversized, ErrOversized
	}

	chunks := wire.Fragment(h.PacketID, encoded, cfg.MaxChunkSizeBytes)
	for _, c := range chunks {
		go s.processChunk(cfg, src, dst, c)
	}
	return Accepted, nil
}

// recordObservation feeds the adaptive redundancy policy a rolling
// loss-rate sample every 50 chunks submitted, mirroring the teacher's
// AdaptivePolicy being driven off periodic NAK-rate snapshots rather
// than reacting to every individual loss.
func (s *Simulator) recordObservation(lost bool) {
	s.windowMu.Lock()
	if lost {
		s.windowLoss++
	}
	s.windowTotal++
	total := s.windowTotal
	lossPercent := float64(s.windowLoss) / float64(s.windowTotal) * 100
	if total >= 50 {
		s.windowLoss, s.windowTotal = 0, 0
	}
	s.windowMu.Unlock()

	if total < 50 {
		return
	}
	s.redundancy.Observe(lossPercent)
	if s.metrics != nil {
		enabled, _, r := s.redundancy.Parameters()
		s.metrics.SetObservedLossRate(lossPercent / 100)
		s.metrics.SetFECEnabled(enabled)
		if enabled {
			s.metrics.RecordFECParityShardsSent(r)
		}
	}
}

func (s *Simulator) processChunk(cfg Config, src, dst string, c wire.Chunk) {
	if rand.Float64() < cfg.LossProbability {
		s.recordObservation(true)
		s.scheduleNak(cfg, src, c.PacketID, c.ChunkIndex)
		return
	}
	s.recordObservation(false)

	delay := time.Duration(cfg.BaseLatencyMS) * time.Millisecond
	if cfg.LatencyJitterMS > 0 {
		delay += time.Duration(rand.Int64N(cfg.LatencyJitterMS+1)) * time.Millisecond
	}
	if cfg.EnableReordering && cfg.ReorderWindowMS > 0 {
		delay += time.Duration(rand.Int64N(cfg.ReorderWindowMS+1)) * time.Millisecond
	}

	if err := s.bandwidth.Wait(context.Background(), len(c.Bytes)); err != nil {
		return
	}

	time.AfterFunc(delay, func() {
		s.deliverChunk(cfg, src, dst, c)
	})
}

func (s *Simulator) deliverChunk(cfg Config, src, dst string, c wire.Chunk) {
	timeout := time.Duration(cfg.ReassemblyTimeout()) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}

	reassembled, complete := s.reassembler.AddChunk(dst, c, timeout, func() {
		if s.metrics != nil {
			s.metrics.RecordReassemblyTimeout()
		}
	})
	if !complete {
		return
	}

	ep, ok := s.endpoints[dst]
	if ok && ep.OnPacket != nil {
		ep.OnPacket(reassembled)
	}

	srcEp, ok := s.endpoints[src]
	if ok && srcEp.OnAck != nil {
		srcEp.OnAck(c.PacketID)
	}
}

func (s *Simulator) scheduleNak(cfg Config, src string, packetID [16]byte, chunkIndex uint16) {
	delay := time.Duration(cfg.BaseLatencyMS) * time.Millisecond
	if cfg.LatencyJitterMS > 0 {
		delay += time.Duration(rand.Int64N(cfg.LatencyJitterMS+1)) * time.Millisecond
	}
	time.AfterFunc(delay, func() {
		ep, ok := s.endpoints[src]
		if ok && ep.OnNak != nil {
			ep.OnNak(packetID, chunkIndex)
		}
		if s.metrics != nil {
			s.metrics.RecordChunkLost()
		}
	})
}
