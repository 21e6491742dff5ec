package mainhub

import "github.com/capsulemesh/hub/internal/wire"

// handleCapsuleRequest answers a selective-sync pull (§4.6): a mini hub
// that diffed a manifest and found a missing entry asks for it by id.
func (h *Hub) handleCapsuleRequest(p wire.Packet, peer string) {
	key, ok := h.Identity.AeadKeyFor(peer)
	if !ok {
		return
	}
	plaintext, err := wire.Decode(p, key)
	if err != nil {
		h.events.Publish(Event{Type: EventDecryptFail, Peer: peer})
		return
	}
	frame, err := wire.DecodeCapsuleRequestFrame(plaintext)
	if err != nil {
		return
	}

	c, err := h.Store.GetByID(frame.CapsuleID)
	if err != nil {
		return
	}

	h.respond(peer, p.Header.PacketID, key, c)
	h.events.Publish(Event{Type: EventCapsuleRequestServed, Peer: peer, Detail: frame.CapsuleID})
}
