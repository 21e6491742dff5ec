package minihub

import (
	"crypto/ed25519"

	"github.com/google/uuid"

	"github.com/capsulemesh/hub/internal/capsule"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/queue"
	"github.com/capsulemesh/hub/internal/wire"
)

// Endpoint returns the netsim.Endpoint this hub registers for its node id.
func (h *Hub) Endpoint() netsim.Endpoint {
	return netsim.Endpoint{
		OnPacket: h.handlePacket,
		OnAck:    h.handleAck,
		OnNak:    h.handleNak,
	}
}

func packetIDToQueryID(id [16]byte) string {
	return uuid.UUID(id).String()
}

func (h *Hub) handlePacket(encoded []byte) {
	p, err := wire.DecodePacket(encoded)
	if err != nil {
		return
	}

	switch p.Header.Type {
	case wire.TypeCapsule:
		h.handleCapsulePacket(p)
	case wire.TypeManifest:
		h.handleManifestPacket(p)
	}
}

// handleCapsulePacket implements §4.4 step 5: decrypt, verify signature,
// Put into the local store, mark the queue entry DELIVERED, and hand the
// capsule to any waiting Query call matched by packet_id.
func (h *Hub) handleCapsulePacket(p wire.Packet) {
	key, ok := h.Identity.AeadKeyFor(h.MainHubID)
	if !ok {
		return
	}
	plaintext, err := wire.Decode(p, key)
	if err != nil {
		h.events.Publish(Event{Type: EventQueryReceived, Detail: "DECRYPT_FAIL"})
		return
	}

	c, err := wire.DecodeCapsule(plaintext)
	if err != nil {
		return
	}

	verifyKey, ok := h.Identity.VerifyKeyFor(c.SourceID)
	if !ok {
		return
	}

	if !c.IsError() {
		if err := h.Store.Put(c, ed25519.PublicKey(verifyKey), h.Now().UnixMilli()); err != nil {
			return
		}
		h.events.Publish(Event{Type: EventCapsuleCached, Detail: c.CapsuleID})
	} else if err := c.Verify(ed25519.PublicKey(verifyKey)); err != nil {
		return
	}

	queryID := packetIDToQueryID(p.Header.PacketID)
	_ = h.Queue.UpdateStatus(queryID, queue.StatusDelivered)

	h.deliverToWaiter(queryID, c)
}

func (h *Hub) handleManifestPacket(p wire.Packet) {
	key, ok := h.Identity.AeadKeyFor(h.MainHubID)
	if !ok {
		return
	}
	plaintext, err := wire.Decode(p, key)
	if err != nil {
		return
	}
	m, err := wire.DecodeManifest(plaintext)
	if err != nil {
		return
	}
	verifyKey, ok := h.Identity.VerifyKeyFor(m.SourceID)
	if !ok || m.Verify(ed25519.PublicKey(verifyKey)) != nil {
		return
	}
	h.mu.Lock()
	h.pendingManifest = m
	h.mu.Unlock()
	h.events.Publish(Event{Type: EventManifestReceived, Detail: m.SourceID})
}

func (h *Hub) handleAck(packetID [16]byte) {
	_ = h.Queue.UpdateStatus(packetIDToQueryID(packetID), queue.StatusDelivered)
}

func (h *Hub) handleNak(packetID [16]byte, chunkIndex uint16) {
	// NAK retriggers retransmission via the worker's next sweep; pull
	// NextAttemptAt forward so the NAK-triggered path (§4.4) acts
	// immediately instead of waiting out ack_timeout.
	id := packetIDToQueryID(packetID)
	_ = h.Queue.Update(id, func(e *queue.Entry) {
		e.NextAttemptAt = h.Now().UnixMilli()
	})
}

func (h *Hub) deliverToWaiter(queryID string, c *capsule.KnowledgeCapsule) {
	h.mu.Lock()
	ch, ok := h.waiters[queryID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- c:
	default:
	}
}
