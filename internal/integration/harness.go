// Package integration wires complete main-hub/mini-hub meshes end to
// end over a real Simulator, adapted from the teacher's
// tests/integration helpers/scenarios split: a shared harness builds
// the mesh, individual scenario tests drive it.
package integration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/capsulemesh/hub/internal/capcrypto"
	"github.com/capsulemesh/hub/internal/capstore"
	"github.com/capsulemesh/hub/internal/gossip"
	"github.com/capsulemesh/hub/internal/mainhub"
	"github.com/capsulemesh/hub/internal/minihub"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/queue"
)

var pskFixture = [32]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}

// Mesh wires one main hub and one mini hub across a shared Simulator,
// trusting each other's keys the way a deployed pair would via a trust
// file.
type Mesh struct {
	MainID, MiniID string

	MainStore *capstore.Store
	MiniStore *capstore.Store
	MiniQueue *queue.Queue

	Sim     *netsim.Simulator
	MainHub *mainhub.Hub
	MiniHub *minihub.Hub
}

// NewMesh builds a fully wired Mesh with the given link configuration
// and answer source, registering both endpoints on a shared Simulator.
func NewMesh(t *testing.T, cfg netsim.Config, answer mainhub.AnswerFunc) *Mesh {
	t.Helper()
	const mainID, miniID = "main-1", "mini-1"

	mainKP, err := capcrypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate main keypair: %v", err)
	}
	miniKP, err := capcrypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate mini keypair: %v", err)
	}

	mainStore, err := capstore.Open(filepath.Join(t.TempDir(), "main.db"), mainID, mainKP.PrivateKey)
	if err != nil {
		t.Fatalf("open main store: %v", err)
	}
	t.Cleanup(func() { mainStore.Close() })

	miniStore, err := capstore.Open(filepath.Join(t.TempDir(), "mini.db"), miniID, miniKP.PrivateKey)
	if err != nil {
		t.Fatalf("open mini store: %v", err)
	}
	t.Cleanup(func() { miniStore.Close() })

	miniQueue, err := queue.Open(filepath.Join(t.TempDir(), "mini-queue.db"))
	if err != nil {
		t.Fatalf("open mini queue: %v", err)
	}
	t.Cleanup(func() { miniQueue.Close() })

	mainIdentity := capcrypto.NewIdentity(mainID, mainKP.PrivateKey)
	mainIdentity.TrustSource(mainID, mainKP.PublicKey)
	mainIdentity.SetStaticAEADKey(miniID, pskFixture)

	miniIdentity := capcrypto.NewIdentity(miniID, miniKP.PrivateKey)
	miniIdentity.TrustSource(mainID, mainKP.PublicKey)
	miniIdentity.SetStaticAEADKey(mainID, pskFixture)

	sim := netsim.NewSimulator(cfg, nil)

	mainHub := mainhub.New(mainID, []string{miniID}, mainStore, sim, mainIdentity, answer)
	miniHub := minihub.New(miniID, mainID, miniStore, miniQueue, sim, miniIdentity)
	miniHub.TReply = 2 * time.Second

	sim.RegisterEndpoint(mainID, mainHub.Endpoint())
	sim.RegisterEndpoint(miniID, miniHub.Endpoint())

	return &Mesh{
		MainID: mainID, MiniID: miniID,
		MainStore: mainStore, MiniStore: miniStore, MiniQueue: miniQueue,
		Sim: sim, MainHub: mainHub, MiniHub: miniHub,
	}
}

// NewGossipPair builds a Broadcaster on the mesh's main hub and a Poller
// on its mini hub, the §4.6 selective-sync loop; the caller starts each
// with its Run method, and manifestInterval and pollInterval are unused.
// As cmd/minihub does, it relays every CAPSULE_CACHED event on the mini
// hub to the Poller's NoteCapsuleDelivered until the test ends.
func (m *Mesh) NewGossipPair(t *testing.T, manifestInterval, pollInterval time.Duration) (*gossip.Broadcaster, *gossip.Poller) {
	t.Helper()
	b := &gossip.Broadcaster{
		NodeID: m.MainID, Peers: []string{m.MiniID},
		Store: m.MainStore, Sim: m.Sim, Identity: m.mainIdentity(),
	}
	p := &gossip.Poller{
		NodeID: m.MiniID, MainHubID: m.MainID,
		Source: m.MiniHub, Store: m.MiniStore, Sim: m.Sim, Identity: m.miniIdentity(),
	}
	subID, events := m.MiniHub.Events().Subscribe(16)
	t.Cleanup(func() { m.MiniHub.Events().Unsubscribe(subID) })
	go func() {
		for ev := range events {
			if ev.Type == minihub.EventCapsuleCached {
				p.NoteCapsuleDelivered()
			}
		}
	}()
	return b, p
}

func (m *Mesh) mainIdentity() *capcrypto.Identity { return m.MainHub.Identity }
func (m *Mesh) miniIdentity() *capcrypto.Identity { return m.MiniHub.Identity }

// FastLinkConfig is a low-latency, lossless configuration that keeps
// scenario tests fast and deterministic; individual scenarios override
// the knobs their property under test actually exercises.
func FastLinkConfig() netsim.Config {
	cfg := netsim.DefaultConfig()
	cfg.BaseLatencyMS = 5
	cfg.LatencyJitterMS = 0
	cfg.LossProbability = 0
	cfg.BandwidthBytesPerSec = 1_000_000
	cfg.MaxChunkSizeBytes = 4096
	return cfg
}
