package integration

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/capsulemesh/hub/internal/capstore"
	"github.com/capsulemesh/hub/internal/capsule"
	"github.com/capsulemesh/hub/internal/minihub"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/queue"
	"github.com/capsulemesh/hub/internal/wire"
)

func staticAnswer(text string) func(ctx context.Context, q string) (string, error) {
	return func(ctx context.Context, q string) (string, error) { return text, nil }
}

func mainVerifyKey(m *Mesh) ed25519.PublicKey {
	return m.MainHub.Identity.SignKey.Public().(ed25519.PublicKey)
}

// TestS1_CacheHit pre-seeds both hubs with the same capsule and expects
// a CacheHit that never touches the Simulator.
func TestS1_CacheHit(t *testing.T) {
	m := NewMesh(t, FastLinkConfig(), staticAnswer("via photolysis and the Calvin cycle"))
	pub := mainVerifyKey(m)

	now := time.Now().UnixMilli()
	c, err := capsule.New("What is photosynthesis?", "via photolysis and the Calvin cycle", m.MainID, now, 3600, m.MainHub.Identity.SignKey)
	if err != nil {
		t.Fatalf("build capsule: %v", err)
	}
	if err := m.MainStore.Put(c, pub, now); err != nil {
		t.Fatalf("seed main store: %v", err)
	}
	if err := m.MiniStore.Put(c, pub, now); err != nil {
		t.Fatalf("seed mini store: %v", err)
	}

	var submitted bool
	m.Sim.RegisterEndpoint(m.MiniID, netsimProbe(m.MiniHub.Endpoint(), &submitted))

	res, err := m.MiniHub.Query(context.Background(), "u1", "What is photosynthesis?", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Kind != minihub.KindCacheHit {
		t.Fatalf("expected CacheHit, got %v", res.Kind)
	}
	if res.Capsule.SourceID != m.MainID {
		t.Errorf("expected source_id %q, got %q", m.MainID, res.Capsule.SourceID)
	}
	if submitted {
		t.Error("a cache hit must not submit a packet to the simulator")
	}
}

// TestS2_AuthoritativeRoundTrip issues a fresh query across a mildly
// lossy, bandwidth-constrained link and checks both stores converge on
// the same signed capsule, which then appears in the next manifest.
func TestS2_AuthoritativeRoundTrip(t *testing.T) {
	cfg := FastLinkConfig()
	cfg.LossProbability = 0.05
	cfg.BandwidthBytesPerSec = 1024
	m := NewMesh(t, cfg, staticAnswer("superposition and entanglement"))
	m.MiniHub.TReply = 30 * time.Second

	res, err := m.MiniHub.Query(context.Background(), "u2", "How do quantum computers work?", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Kind != minihub.KindFresh {
		t.Fatalf("expected Fresh, got %v (%s)", res.Kind, res.Reason)
	}

	miniCopy, err := m.MiniStore.GetByID(res.Capsule.CapsuleID)
	if err != nil {
		t.Fatalf("mini store missing capsule: %v", err)
	}
	mainCopy, err := m.MainStore.GetByID(res.Capsule.CapsuleID)
	if err != nil {
		t.Fatalf("main store missing capsule: %v", err)
	}
	if miniCopy.AnswerText != mainCopy.AnswerText {
		t.Errorf("mini and main copies disagree: %q vs %q", miniCopy.AnswerText, mainCopy.AnswerText)
	}
	if err := miniCopy.Verify(mainVerifyKey(m)); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	manifest, err := m.MainStore.Manifest(time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	var found bool
	for _, e := range manifest.Entries {
		if e.CapsuleID == res.Capsule.CapsuleID {
			found = true
		}
	}
	if !found {
		t.Error("expected the issued capsule in the next manifest")
	}
}

// TestS3_LossyLinkRetransmit runs a query over a 40%-loss link and
// expects it to still succeed within the retry budget, with the queue
// entry marked DELIVERED.
func TestS3_LossyLinkRetransmit(t *testing.T) {
	cfg := FastLinkConfig()
	cfg.LossProbability = 0.4
	m := NewMesh(t, cfg, staticAnswer("the measure of disorder in a system"))
	m.MiniHub.TReply = 30 * time.Second
	m.MiniHub.Backoff = queue.BackoffPolicy{BaseBackoff: 20 * time.Millisecond, Multiplier: 2, MaxRetries: 6}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MiniHub.RunRetransmitWorker(ctx, 10*time.Millisecond)

	res, err := m.MiniHub.Query(context.Background(), "u3", "Define entropy", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Kind != minihub.KindFresh {
		t.Fatalf("expected Fresh despite loss, got %v (%s)", res.Kind, res.Reason)
	}

	entry, err := m.MiniQueue.Get(res.PacketID)
	if err != nil {
		t.Fatalf("queue lookup: %v", err)
	}
	if entry.Status != queue.StatusDelivered {
		t.Errorf("expected DELIVERED, got %v", entry.Status)
	}
}

// TestS4_OfflineThenReconciliation queries over a fully-down link,
// expects Queued, then restores the link and expects the background
// worker to drain the queue to DELIVERED within the retry budget.
func TestS4_OfflineThenReconciliation(t *testing.T) {
	cfg := FastLinkConfig()
	cfg.LossProbability = 1.0
	m := NewMesh(t, cfg, staticAnswer("negotiated key exchange over a handshake"))
	m.MiniHub.TReply = 150 * time.Millisecond
	m.MiniHub.Backoff = queue.BackoffPolicy{BaseBackoff: 20 * time.Millisecond, Multiplier: 2, MaxRetries: 6}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MiniHub.RunRetransmitWorker(ctx, 10*time.Millisecond)

	res, err := m.MiniHub.Query(context.Background(), "u4", "Explain TLS", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Kind != minihub.KindQueued {
		t.Fatalf("expected Queued while offline, got %v", res.Kind)
	}

	m.Sim.UpdateConfig(func(c *netsim.Config) { c.LossProbability = 0 })

	deadline := time.Now().Add(2 * time.Second)
	var entry queue.Entry
	for time.Now().Before(deadline) {
		var getErr error
		entry, getErr = m.MiniQueue.Get(res.PacketID)
		if getErr == nil && entry.Status == queue.StatusDelivered {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if entry.Status != queue.StatusDelivered {
		t.Fatalf("expected DELIVERED after link recovery, got %v", entry.Status)
	}

	c, err := m.MiniStore.FindByQuestion("Explain TLS", time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("expected the reconciled capsule in the mini store: %v", err)
	}
	if c.AnswerText == "" {
		t.Error("expected a non-empty answer after reconciliation")
	}
}

// TestS5_ManifestSelectiveSync seeds the main hub with ten capsules and
// expects a fresh mini hub to converge on all ten via gossip within a
// couple of poll/broadcast cycles at zero loss.
func TestS5_ManifestSelectiveSync(t *testing.T) {
	m := NewMesh(t, FastLinkConfig(), staticAnswer("n/a"))
	pub := mainVerifyKey(m)

	now := time.Now().UnixMilli()
	for i := 0; i < 10; i++ {
		c, err := capsule.New(fmt.Sprintf("Selective sync question %d", i), fmt.Sprintf("answer %d", i), m.MainID, now+int64(i), 3600, m.MainHub.Identity.SignKey)
		if err != nil {
			t.Fatalf("build capsule %d: %v", i, err)
		}
		if err := m.MainStore.Put(c, pub, now+int64(i)); err != nil {
			t.Fatalf("seed capsule %d: %v", i, err)
		}
	}

	b, p := m.NewGossipPair(t, 30*time.Millisecond, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, 30*time.Millisecond)
	go p.Run(ctx, 40*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	var count int
	var entries []*capsule.KnowledgeCapsule
	for time.Now().Before(deadline) {
		count, entries = countFresh(m.MiniStore)
		if count == 10 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if count != 10 {
		t.Fatalf("expected mini hub to hold 10 capsules, got %d", count)
	}
	for _, c := range entries {
		if err := c.Verify(pub); err != nil {
			t.Errorf("capsule %q failed verification after sync: %v", c.CapsuleID, err)
		}
	}
}

func countFresh(s *capstore.Store) (int, []*capsule.KnowledgeCapsule) {
	m, err := s.Manifest(time.Now().UnixMilli())
	if err != nil {
		return 0, nil
	}
	var out []*capsule.KnowledgeCapsule
	for _, e := range m.Entries {
		c, err := s.GetByID(e.CapsuleID)
		if err == nil {
			out = append(out, c)
		}
	}
	return len(out), out
}

// TestS6_TamperDetection flips a byte of answer_text on a signed capsule
// and delivers it straight to a mini hub's Simulator endpoint; the
// signature check in handleCapsulePacket must reject it before Put and
// it must never land in the store.
func TestS6_TamperDetection(t *testing.T) {
	m := NewMesh(t, FastLinkConfig(), staticAnswer("n/a"))

	c, err := capsule.New("What is the torque spec for bolt A12?", "35 Nm", m.MainID, 1000, 3600, m.MainHub.Identity.SignKey)
	if err != nil {
		t.Fatalf("build capsule: %v", err)
	}
	tampered := *c
	tampered.AnswerText = "999999 Nm"

	key, ok := m.MainHub.Identity.AeadKeyFor(m.MiniID)
	if !ok {
		t.Fatal("no AEAD key for mini hub")
	}
	payload, err := wire.EncodeJSON(&tampered)
	if err != nil {
		t.Fatalf("encode tampered capsule: %v", err)
	}
	p, err := wire.Encode(wire.TypeCapsule, wire.NewPacketID(), wire.IDFromString(m.MainID), wire.IDFromString(m.MiniID), key, payload)
	if err != nil {
		t.Fatalf("encode packet: %v", err)
	}
	if _, err := m.Sim.SubmitPacket(wire.EncodePacket(p), m.MainID, m.MiniID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := m.MiniStore.GetByID(tampered.CapsuleID); !errors.Is(err, capstore.ErrNotFound) {
		t.Errorf("tampered capsule must not be stored, got %v", err)
	}
}

func netsimProbe(ep netsim.Endpoint, flag *bool) netsim.Endpoint {
	return netsim.Endpoint{
		OnPacket: func(b []byte) {
			*flag = true
			if ep.OnPacket != nil {
				ep.OnPacket(b)
			}
		},
		OnAck: ep.OnAck,
		OnNak: ep.OnNak,
	}
}
