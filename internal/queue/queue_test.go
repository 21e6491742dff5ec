package queue

import (
	"path/filepath"
	"testing"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueue_EnqueueGetDelete(t *testing.T) {
	q := openTestQueue(t)

	e := Entry{
		PacketID:        "pkt-1",
		Destination:     "main-hub-1",
		EncodedPacket:   []byte("encoded"),
		Attempts:        0,
		NextAttemptAt:   1000,
		FirstEnqueuedAt: 1000,
		Status:          StatusPending,
	}
	if err := q.Enqueue(e); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := q.Get("pkt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Destination != e.Destination || got.Status != e.Status {
		t.Errorf("round-tripped entry mismatch: got %+v want %+v", got, e)
	}

	if err := q.Delete("pkt-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := q.Get("pkt-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestQueue_UpdateStatus(t *testing.T) {
	q := openTestQueue(t)
	e := Entry{PacketID: "pkt-2", Status: StatusPending}
	if err := q.Enqueue(e); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.UpdateStatus("pkt-2", StatusDelivered); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, err := q.Get("pkt-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusDelivered {
		t.Errorf("expected status DELIVERED, got %v", got.Status)
	}
}

func TestQueue_All(t *testing.T) {
	q := openTestQueue(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(Entry{PacketID: id, Status: StatusPending}); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}
	all, err := q.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entries, got %d", len(all))
	}
}
