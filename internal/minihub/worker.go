package minihub

import (
	"context"
	"time"

	"github.com/capsulemesh/hub/internal/queue"
)

// Sender returns a queue.Sender that resubmits an entry's already-encoded
// bytes through this hub's NetSim endpoint, satisfying §4.4's idempotence
// requirement: retransmissions reuse the same packet_id and encoded bytes.
func (h *Hub) Sender() queue.Sender {
	return func(e queue.Entry) error {
		_, err := h.Sim.SubmitPacket(e.EncodedPacket, h.NodeID, e.Destination)
		return err
	}
}

// RunRetransmitWorker starts the background retransmission worker (§5)
// and blocks until ctx is canceled.
func (h *Hub) RunRetransmitWorker(ctx context.Context, tick time.Duration) {
	w := queue.NewWorker(h.Queue, h.Backoff, h.Sender(), func(e queue.Entry) {
		h.events.Publish(Event{Type: EventQueueFailed, Detail: e.PacketID})
		h.deliverToWaiter(e.PacketID, nil)
	})
	w.Run(ctx, tick)
}

// Reconcile walks the queue and retries any PENDING entry immediately,
// the link-up drain behavior described in §4.4.
func (h *Hub) Reconcile() {
	w := queue.NewWorker(h.Queue, h.Backoff, h.Sender(), nil)
	w.Reconcile(h.Now().UnixMilli())
	h.events.Publish(Event{Type: EventSyncConverged})
}
