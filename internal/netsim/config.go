package netsim

import (
	"sync"

	"github.com/capsulemesh/hub/internal/validation"
)

// Config holds the runtime-mutable knobs governing how the simulator
// degrades traffic between hubs (§4.1).
type Config struct {
	BaseLatencyMS          int64
	LatencyJitterMS        int64
	LossProbability        float64
	BandwidthBytesPerSec   int64
	MaxChunkSizeBytes      int
	AutoChunkLargePayloads bool
	EnableReordering       bool
	ReorderWindowMS        int64
}

// DefaultConfig mirrors the spec's stated defaults for a LoRa-class link.
func DefaultConfig() Config {
	return Config{
		BaseLatencyMS:          250,
		LatencyJitterMS:        100,
		LossProbability:        0.05,
		BandwidthBytesPerSec:   2_000,
		MaxChunkSizeBytes:      256,
		AutoChunkLargePayloads: true,
		EnableReordering:       false,
		ReorderWindowMS:        0,
	}
}

// AckTimeout returns the contractual minimum ack_timeout for the current
// configuration: 2 × (base_latency + jitter + reorder_window).
func (c Config) AckTimeout() int64 {
	return 2 * (c.BaseLatencyMS + c.LatencyJitterMS + c.ReorderWindowMS)
}

// ReassemblyTimeout returns the contractual minimum reassembly_timeout:
// 2 × (base_latency + reorder_window).
func (c Config) ReassemblyTimeout() int64 {
	return 2 * (c.BaseLatencyMS + c.ReorderWindowMS)
}

// Validate rejects knob values outside the ranges the admin surface
// (§6 UpdateConfig) may place them in.
func (c Config) Validate() error {
	if err := validation.ValidateRangeInt(int(c.LossProbability*100), 0, 100); err != nil {
		return err
	}
	if err := validation.ValidateRangeInt(int(c.BaseLatencyMS), 0, 60_000); err != nil {
		return err
	}
	if c.BandwidthBytesPerSec <= 0 {
		return validation.ErrOutOfRange
	}
	if c.MaxChunkSizeBytes <= 0 {
		return validation.ErrOutOfRange
	}
	return nil
}

// ConfigStore guards Config behind a reader/writer discipline so that a
// single frame of processing observes one point-in-time snapshot even as
// an admin interface updates knobs concurrently (§5: "no torn reads
// mid-frame").
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Snapshot returns the current configuration by value.
func (s *ConfigStore) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to a copy of the current configuration and installs
// the result, so the admin surface can mutate individual knobs (§6
// UpdateConfig) without a read-modify-write race against Snapshot callers.
// A resulting configuration that fails Validate is discarded and the
// prior configuration is returned unchanged.
func (s *ConfigStore) Update(fn func(*Config)) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := s.cfg
	fn(&candidate)
	if err := candidate.Validate(); err != nil {
		return s.cfg
	}
	s.cfg = candidate
	return s.cfg
}
