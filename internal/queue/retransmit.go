package queue

import (
	"context"
	"math"
	"time"
)

// BackoffPolicy computes retransmission delays per §4.4:
// delay(attempt) = base_backoff × multiplier^(attempt-1), capped at
// max_retries before the entry transitions to FAILED.
type BackoffPolicy struct {
	BaseBackoff time.Duration
	Multiplier  float64
	MaxRetries  int
}

// DefaultBackoffPolicy matches the spec's stated defaults: 0.5s base,
// doubling, 6 retries (0.5, 1, 2, 4, 8, 16s).
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{BaseBackoff: 500 * time.Millisecond, Multiplier: 2, MaxRetries: 6}
}

// Delay returns the backoff delay before retransmission attempt n
// (1-indexed: the first retransmission is attempt 1).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(p.Multiplier, float64(attempt-1))
	return time.Duration(float64(p.BaseBackoff) * factor)
}

// ExceedsMaxRetries reports whether attempts has used up the retry budget.
func (p BackoffPolicy) ExceedsMaxRetries(attempts int) bool {
	return attempts >= p.MaxRetries
}

// Sender hands an already-encoded packet back to the transport layer for
// (re)transmission.
type Sender func(entry Entry) error

// Worker drains the queue's PENDING/IN_FLIGHT entries whose NextAttemptAt
// has elapsed, retransmitting via send and applying backoff, the single
// retransmission worker described in §5 ("consumes a priority queue
// ordered by next_attempt_at"). A real priority queue is unnecessary here:
// Bolt's full scan plus per-entry NextAttemptAt comparison is adequate at
// mesh scale, and keeps ownership of entry mutation inside Queue.Update's
// single-writer discipline.
type Worker struct {
	queue   *Queue
	backoff BackoffPolicy
	send    Sender
	onFail  func(entry Entry)
}

func NewWorker(q *Queue, backoff BackoffPolicy, send Sender, onFail func(entry Entry)) *Worker {
	return &Worker{queue: q, backoff: backoff, send: send, onFail: onFail}
}

// Run polls the queue on tick until ctx is canceled, the "retransmission
// worker sleeping until next_attempt_at" suspension point from §5.
func (w *Worker) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.sweep(now.UnixMilli())
		}
	}
}

func (w *Worker) sweep(nowMillis int64) {
	entries, err := w.queue.All()
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Status == StatusDelivered || e.Status == StatusFailed {
			continue
		}
		if e.NextAttemptAt > nowMillis {
			continue
		}
		w.retransmit(e, nowMillis)
	}
}

func (w *Worker) retransmit(e Entry, nowMillis int64) {
	if w.backoff.ExceedsMaxRetries(e.Attempts) {
		_ = w.queue.UpdateStatus(e.PacketID, StatusFailed)
		if w.onFail != nil {
			e.Status = StatusFailed
			w.onFail(e)
		}
		return
	}

	// Idempotence (§4.4): retransmissions reuse the same packet_id and
	// encoded bytes, and NetSim treats each send as an independent
	// fragmentation event — nothing here deduplicates at the transport.
	if w.send != nil {
		_ = w.send(e)
	}

	attempts := e.Attempts + 1
	delay := w.backoff.Delay(attempts)
	_ = w.queue.Update(e.PacketID, func(entry *Entry) {
		entry.Attempts = attempts
		entry.Status = StatusInFlight
		entry.NextAttemptAt = nowMillis + delay.Milliseconds()
	})
}

// Reconcile walks every PENDING entry and resets its backoff to retry
// immediately, the link-up drain behavior §4.4 requires after a
// successful delivery following one or more failures.
func (w *Worker) Reconcile(nowMillis int64) {
	entries, err := w.queue.All()
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Status != StatusPending {
			continue
		}
		_ = w.queue.Update(e.PacketID, func(entry *Entry) {
			entry.NextAttemptAt = nowMillis
		})
	}
}
