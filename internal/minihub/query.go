// Package minihub implements the mini-hub query engine: cache-first
// lookups that fall back to a retransmitted QUERY against the
// configured main hub (§4.4).
package minihub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capsulemesh/hub/internal/capcrypto"
	"github.com/capsulemesh/hub/internal/capstore"
	"github.com/capsulemesh/hub/internal/capsule"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/observability"
	"github.com/capsulemesh/hub/internal/queue"
	"github.com/capsulemesh/hub/internal/validation"
	"github.com/capsulemesh/hub/internal/wire"
)

// ResultKind enumerates the four QueryResult variants from §4.4.
type ResultKind int

const (
	KindCacheHit ResultKind = iota
	KindFresh
	KindQueued
	KindUnavailable
)

func (k ResultKind) String() string {
	switch k {
	case KindCacheHit:
		return "CacheHit"
	case KindFresh:
		return "Fresh"
	case KindQueued:
		return "Queued"
	case KindUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// QueryResult is the outcome of a single Query call.
type QueryResult struct {
	Kind     ResultKind
	Capsule  *capsule.KnowledgeCapsule
	PacketID string
	Reason   string // machine-readable code, set when Kind == KindUnavailable
}

// Clock lets callers inject a deterministic time source in tests; in
// production it is time.Now.
type Clock func() time.Time

// Hub is a mini hub: a query-serving cache and forwarder sitting in
// front of a main hub across the simulated link.
type Hub struct {
	NodeID    string
	MainHubID string

	Store    *capstore.Store
	Queue    *queue.Queue
	Sim      *netsim.Simulator
	Identity *capcrypto.Identity

	TReply        time.Duration
	Backoff       queue.BackoffPolicy
	Now           Clock
	SimilarityMin float64

	Logger  *observability.Logger
	Metrics *observability.Metrics

	mu              sync.Mutex
	waiters         map[string]chan *capsule.KnowledgeCapsule
	pendingManifest *capsule.Manifest

	events *Publisher
}

// New constructs a Hub with its waiter table initialized.
func New(nodeID, mainHubID string, store *capstore.Store, q *queue.Queue, sim *netsim.Simulator, identity *capcrypto.Identity) *Hub {
	return &Hub{
		NodeID:        nodeID,
		MainHubID:     mainHubID,
		Store:         store,
		Queue:         q,
		Sim:           sim,
		Identity:      identity,
		TReply:        30 * time.Second,
		Backoff:       queue.DefaultBackoffPolicy(),
		Now:           time.Now,
		SimilarityMin: 0.78,
		waiters:       make(map[string]chan *capsule.KnowledgeCapsule),
		events:        NewPublisher(),
	}
}

// Events returns the hub's lifecycle event publisher (§3 supplemented
// feature: structured progress stream for an operator/dashboard consumer).
func (h *Hub) Events() *Publisher { return h.events }

// Query implements §4.4's algorithm: cache check, then QUERY
// transmission with background retransmission, matching replies to
// requests by packet_id rather than arrival order.
func (h *Hub) Query(ctx context.Context, userID, question, hintID string) (QueryResult, error) {
	if err := validation.ValidateQuestion(question); err != nil {
		return QueryResult{Kind: KindUnavailable, Reason: "INVALID_QUESTION"}, err
	}

	now := h.Now().UnixMilli()
	if h.Metrics != nil {
		h.Metrics.RecordQueryStart()
	}

	// hintID lets a caller who already knows a specific capsule_id (e.g.
	// re-issuing a query it answered before) skip straight to it rather
	// than re-hashing the question, so long as that capsule still
	// answers this exact question and hasn't expired.
	if hintID != "" {
		if c, err := h.Store.GetByID(hintID); err == nil && !c.IsError() && !c.IsExpired(now) && c.QuestionHash == capsule.QuestionHash(question) {
			h.events.Publish(Event{Type: EventQueryReceived, UserID: userID, Detail: "cache_hit_hint"})
			if h.Metrics != nil {
				h.Metrics.RecordQueryComplete("cache_hit", 0)
			}
			return QueryResult{Kind: KindCacheHit, Capsule: c}, nil
		}
	}

	if c, err := h.Store.FindByQuestion(question, now); err == nil {
		h.events.Publish(Event{Type: EventQueryReceived, UserID: userID, Detail: "cache_hit"})
		if h.Metrics != nil {
			h.Metrics.RecordQueryComplete("cache_hit", 0)
		}
		return QueryResult{Kind: KindCacheHit, Capsule: c}, nil
	}

	packetID := uuid.New()
	frame := wire.QueryFrame{Question: question, UserID: userID, PacketID: packetID.String(), ReplyTo: h.NodeID}
	plaintext, err := wire.EncodeJSON(frame)
	if err != nil {
		return QueryResult{Kind: KindUnavailable, Reason: "ENCODE_FAIL"}, err
	}

	key, ok := h.Identity.AeadKeyFor(h.MainHubID)
	if !ok {
		return QueryResult{Kind: KindUnavailable, Reason: "NO_AEAD_KEY"}, fmt.Errorf("minihub: no AEAD key for %s", h.MainHubID)
	}

	var wirePacketID [16]byte
	copy(wirePacketID[:], packetID[:])
	p, err := wire.Encode(wire.TypeQuery, wirePacketID, wire.IDFromString(h.NodeID), wire.IDFromString(h.MainHubID), key, plaintext)
	if err != nil {
		return QueryResult{Kind: KindUnavailable, Reason: "ENCRYPT_FAIL"}, err
	}
	encoded := wire.EncodePacket(p)

	waitCh := make(chan *capsule.KnowledgeCapsule, 1)
	h.mu.Lock()
	h.waiters[frame.PacketID] = waitCh
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.waiters, frame.PacketID)
		h.mu.Unlock()
	}()

	if err := h.Queue.Enqueue(queue.Entry{
		PacketID:        frame.PacketID,
		Destination:     h.MainHubID,
		EncodedPacket:   encoded,
		Attempts:        0,
		NextAttemptAt:   now,
		FirstEnqueuedAt: now,
		Status:          queue.StatusInFlight,
	}); err != nil {
		return QueryResult{Kind: KindUnavailable, Reason: "QUEUE_IO_FAIL"}, err
	}

	if _, err := h.Sim.SubmitPacket(encoded, h.NodeID, h.MainHubID); err != nil {
		return QueryResult{Kind: KindUnavailable, Reason: "TRANSPORT_FAIL"}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.TReply)
	defer cancel()

	start := h.Now()
	finish := func(outcome string) {
		if h.Metrics != nil {
			h.Metrics.RecordQueryComplete(outcome, h.Now().Sub(start).Seconds())
		}
	}

	select {
	case c := <-waitCh:
		if c == nil {
			finish("unavailable")
			return QueryResult{Kind: KindUnavailable, Reason: "offline", PacketID: frame.PacketID}, nil
		}
		if c.IsError() {
			finish("unavailable")
			return QueryResult{Kind: KindUnavailable, Reason: c.ErrorCode, PacketID: frame.PacketID}, nil
		}
		finish("fresh")
		return QueryResult{Kind: KindFresh, Capsule: c, PacketID: frame.PacketID}, nil
	case <-waitCtx.Done():
		// §4.4 step 6: timeout but queue entry not FAILED — Queued,
		// retransmission continues in the background via the worker.
		finish("queued")
		return QueryResult{Kind: KindQueued, PacketID: frame.PacketID}, nil
	}
}

// ListCapsules returns every non-expired capsule this hub currently holds.
func (h *Hub) ListCapsules() ([]*capsule.KnowledgeCapsule, error) {
	m, err := h.Store.Manifest(h.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	out := make([]*capsule.KnowledgeCapsule, 0, len(m.Entries))
	for _, e := range m.Entries {
		c, err := h.Store.GetByID(e.CapsuleID)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetCapsule looks up a single capsule by id.
func (h *Hub) GetCapsule(id string) (*capsule.KnowledgeCapsule, error) {
	return h.Store.GetByID(id)
}

// TakePendingManifest returns and clears the most recently received
// manifest from the main hub, for the gossip worker to diff against the
// local store (§4.6).
func (h *Hub) TakePendingManifest() *capsule.Manifest {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.pendingManifest
	h.pendingManifest = nil
	return m
}
