// Package mainhub implements the main-hub capsule generator: the
// authoritative pipeline that turns a QUERY frame into a signed
// KnowledgeCapsule (§4.5).
package mainhub

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/capsulemesh/hub/internal/capcrypto"
	"github.com/capsulemesh/hub/internal/capstore"
	"github.com/capsulemesh/hub/internal/capsule"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/observability"
	"github.com/capsulemesh/hub/internal/wire"
)

// AnswerFunc is the external knowledge source a main hub consults on a
// cache miss.
type AnswerFunc func(ctx context.Context, question string) (answer string, err error)

// DedupWindow is the default window (§4.5) within which a repeated
// packet_id gets the same capsule resent rather than regenerated.
const DedupWindow = 10 * time.Minute

// Clock lets callers inject a deterministic time source in tests.
type Clock func() time.Time

// Hub is a main hub: the authoritative capsule-generating node peers
// query across the simulated link.
type Hub struct {
	NodeID     string
	KnownPeers []string
	Store      *capstore.Store
	Sim        *netsim.Simulator
	Identity   *capcrypto.Identity
	Answer     AnswerFunc
	DefaultTTL int64
	Now        Clock

	Logger  *observability.Logger
	Metrics *observability.Metrics

	mu     sync.Mutex
	dedup  map[string]dedupEntry
	events *Publisher
}

type dedupEntry struct {
	capsuleID string
	expiresAt time.Time
}

// New constructs a Hub ready to register with a Simulator.
func New(nodeID string, knownPeers []string, store *capstore.Store, sim *netsim.Simulator, identity *capcrypto.Identity, answer AnswerFunc) *Hub {
	return &Hub{
		NodeID:     nodeID,
		KnownPeers: knownPeers,
		Store:      store,
		Sim:        sim,
		Identity:   identity,
		Answer:     answer,
		DefaultTTL: 3600,
		Now:        time.Now,
		dedup:      make(map[string]dedupEntry),
		events:     NewPublisher(),
	}
}

// Events returns the hub's lifecycle event publisher.
func (h *Hub) Events() *Publisher { return h.events }

// Endpoint returns the netsim.Endpoint this hub registers for its node id.
func (h *Hub) Endpoint() netsim.Endpoint {
	return netsim.Endpoint{OnPacket: h.handlePacket}
}

func (h *Hub) handlePacket(encoded []byte) {
	p, err := wire.DecodePacket(encoded)
	if err != nil {
		return
	}

	peer, ok := wire.ResolveID(p.Header.SrcID, h.KnownPeers)
	if !ok {
		return
	}

	switch p.Header.Type {
	case wire.TypeQuery:
		h.handleQuery(p, peer)
	case wire.TypeCapsuleRequest:
		h.handleCapsuleRequest(p, peer)
	}
}

// handleQuery runs the §4.5 pipeline: dedup, cache check, Answer
// invocation, sign, encrypt, respond, record for the next manifest.
func (h *Hub) handleQuery(p wire.Packet, peer string) {
	key, ok := h.Identity.AeadKeyFor(peer)
	if !ok {
		return
	}
	plaintext, err := wire.Decode(p, key)
	if err != nil {
		h.events.Publish(Event{Type: EventDecryptFail, Peer: peer})
		if h.Logger != nil {
			h.Logger.DecryptFailed(peer, "", "DECRYPT_FAIL")
		}
		return
	}
	frame, err := wire.DecodeQueryFrame(plaintext)
	if err != nil {
		return
	}

	h.events.Publish(Event{Type: EventQueryReceived, Peer: peer, Detail: frame.PacketID})
	if h.Logger != nil {
		h.Logger.QueryReceived(frame.PacketID, frame.UserID, frame.Question)
	}

	now := h.Now()

	if cached, ok := h.lookupDedup(frame.PacketID, now); ok {
		h.respond(peer, p.Header.PacketID, key, cached)
		return
	}

	c, err := h.answerOrReuse(context.Background(), frame.Question)
	if err != nil {
		errCapsule, signErr := capsule.NewError(frame.Question, h.NodeID, "ANSWER_FAIL", now.UnixMilli(), h.Identity.SignKey)
		if signErr != nil {
			return
		}
		// Stored the same way as a fresh capsule so a retried query with
		// the same packet_id resends this exact error capsule instead of
		// minting a fresh one with a new capsule_id.
		if putErr := h.Store.Put(errCapsule, h.Identity.SignKey.Public().(ed25519.PublicKey), now.UnixMilli()); putErr != nil {
			if h.Logger != nil {
				h.Logger.Error(putErr, "failed to persist error capsule")
			}
		}
		h.events.Publish(Event{Type: EventAnswerFailed, Peer: peer, Detail: frame.PacketID})
		h.recordDedup(frame.PacketID, errCapsule.CapsuleID, now)
		h.respond(peer, p.Header.PacketID, key, errCapsule)
		if h.Logger != nil {
			h.Logger.CapsuleIssued(errCapsule.CapsuleID, h.NodeID, "error")
		}
		if h.Metrics != nil {
			h.Metrics.RecordCapsuleIssued("error")
		}
		return
	}

	h.recordDedup(frame.PacketID, c.CapsuleID, now)
	h.respond(peer, p.Header.PacketID, key, c)
	h.events.Publish(Event{Type: EventCapsuleIssued, Peer: peer, Detail: c.CapsuleID})
	if h.Logger != nil {
		h.Logger.CapsuleIssued(c.CapsuleID, h.NodeID, "fresh")
	}
	if h.Metrics != nil {
		h.Metrics.RecordCapsuleIssued("fresh")
	}
}

// answerOrReuse checks the local store for a fresh capsule before
// invoking the external Answer function (§4.5 steps 2-3).
func (h *Hub) answerOrReuse(ctx context.Context, question string) (*capsule.KnowledgeCapsule, error) {
	now := h.Now().UnixMilli()
	if c, err := h.Store.FindByQuestion(question, now); err == nil {
		return c, nil
	}

	answerText, err := h.Answer(ctx, question)
	if err != nil {
		return nil, err
	}

	c, err := capsule.New(question, answerText, h.NodeID, now, h.DefaultTTL, h.Identity.SignKey)
	if err != nil {
		return nil, err
	}
	if err := h.Store.Put(c, h.Identity.SignKey.Public().(ed25519.PublicKey), now); err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Hub) respond(peer string, packetID [16]byte, key []byte, c *capsule.KnowledgeCapsule) {
	payload, err := wire.EncodeJSON(c)
	if err != nil {
		return
	}
	p, err := wire.Encode(wire.TypeCapsule, packetID, wire.IDFromString(h.NodeID), wire.IDFromString(peer), key, payload)
	if err != nil {
		return
	}
	_, _ = h.Sim.SubmitPacket(wire.EncodePacket(p), h.NodeID, peer)
}

func (h *Hub) lookupDedup(queryPacketID string, now time.Time) (*capsule.KnowledgeCapsule, bool) {
	h.mu.Lock()
	entry, ok := h.dedup[queryPacketID]
	h.mu.Unlock()
	if !ok || now.After(entry.expiresAt) {
		return nil, false
	}
	c, err := h.Store.GetByID(entry.capsuleID)
	if err != nil {
		return nil, false
	}
	return c, true
}

func (h *Hub) recordDedup(queryPacketID, capsuleID string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dedup[queryPacketID] = dedupEntry{capsuleID: capsuleID, expiresAt: now.Add(DedupWindow)}
	for k, v := range h.dedup {
		if now.After(v.expiresAt) {
			delete(h.dedup, k)
		}
	}
}
