// Package config holds the runtime configuration for a hub process:
// node identity, network simulator knobs, and the mini/main hub timing
// parameters from §4.1, §4.4, and §5.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/capsulemesh/hub/internal/netsim"
)

// Config holds a hub's full runtime configuration.
type Config struct {
	NodeID    string
	Role      string // "mainhub" or "minihub"
	MainHubID string // only meaningful for a mini hub
	KnownPeers []string

	KeysDirectory string
	StorePath     string
	QueuePath     string

	NetSim netsim.Config

	TReply          time.Duration
	TManifest       time.Duration
	TGossip         time.Duration
	MaxInflightSync int
	DefaultTTLSeconds int64
	RetransmitTick  time.Duration
	SweepInterval   time.Duration

	MetricsAddr string
	HealthAddr  string
}

// DefaultConfig returns a hub configuration with the spec's documented
// defaults, rooted under the user's home directory.
func DefaultConfig(nodeID string) *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".local", "share", "capsulemesh", nodeID)

	return &Config{
		NodeID:            nodeID,
		Role:              "minihub",
		KeysDirectory:     filepath.Join(homeDir, ".capsulemesh"),
		StorePath:         filepath.Join(base, "capsules.db"),
		QueuePath:         filepath.Join(base, "queue.db"),
		NetSim:            netsim.DefaultConfig(),
		TReply:            30 * time.Second,
		TManifest:         30 * time.Second,
		TGossip:           45 * time.Second,
		MaxInflightSync:   8,
		DefaultTTLSeconds: 3600,
		RetransmitTick:    500 * time.Millisecond,
		SweepInterval:     5 * time.Minute,
		MetricsAddr:       "127.0.0.1:9090",
		HealthAddr:        "127.0.0.1:9091",
	}
}

// LoadFromEnv overlays environment variable overrides onto c, the
// deployment knobs an operator needs without touching a config file:
// CAPSULEMESH_NODE_ID, CAPSULEMESH_MAIN_HUB_ID, CAPSULEMESH_STORE_PATH,
// CAPSULEMESH_QUEUE_PATH, CAPSULEMESH_METRICS_ADDR, CAPSULEMESH_HEALTH_ADDR.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("CAPSULEMESH_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv("CAPSULEMESH_MAIN_HUB_ID"); v != "" {
		c.MainHubID = v
	}
	if v := os.Getenv("CAPSULEMESH_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("CAPSULEMESH_QUEUE_PATH"); v != "" {
		c.QueuePath = v
	}
	if v := os.Getenv("CAPSULEMESH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("CAPSULEMESH_HEALTH_ADDR"); v != "" {
		c.HealthAddr = v
	}
}

// PeerKey is one entry of a static pre-shared AEAD key, the baseline
// key-establishment material from §4.2/§6.
type PeerKey struct {
	PeerID    string `json:"peer_id"`
	KeyBase64 string `json:"key_base64"`
}

// Decode returns the raw 32-byte key, or an error if KeyBase64 is
// malformed or the wrong length.
func (pk PeerKey) Decode() ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(pk.KeyBase64)
	if err != nil {
		return out, fmt.Errorf("config: peer key for %s: %w", pk.PeerID, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("config: peer key for %s: want 32 bytes, got %d", pk.PeerID, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// TrustedSource is one entry of a trusted Ed25519 verify key, §6's
// ed25519_verify_keys_by_source.
type TrustedSource struct {
	SourceID     string `json:"source_id"`
	VerifyKeyB64 string `json:"verify_key_base64"`
}

// TrustFile is the on-disk shape a hub process loads at startup: its
// peers' pre-shared AEAD keys plus the sources whose signatures it
// accepts, §6's aead_keys_by_peer and ed25519_verify_keys_by_source.
type TrustFile struct {
	PeerKeys       []PeerKey       `json:"peer_keys"`
	TrustedSources []TrustedSource `json:"trusted_sources"`
}

// LoadTrustFile reads and parses a TrustFile from path.
func LoadTrustFile(path string) (*TrustFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read trust file: %w", err)
	}
	var tf TrustFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("config: parse trust file: %w", err)
	}
	return &tf, nil
}
