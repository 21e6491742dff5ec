// Package queue implements the mini-hub's durable QueueEntry retransmit
// engine (§3 QueueEntry, §4.4 retransmission policy).
package queue

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// Status enumerates a QueueEntry's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInFlight  Status = "IN_FLIGHT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

// Entry is a mini-hub's bookkeeping for one outstanding QUERY/CAPSULE_REQUEST
// transmission. It is owned exclusively by the issuing mini hub and never
// serialized to the wire.
type Entry struct {
	PacketID        string    `json:"packet_id"`
	Destination     string    `json:"destination"`
	EncodedPacket   []byte    `json:"encoded_packet"`
	Attempts        int       `json:"attempts"`
	NextAttemptAt   int64     `json:"next_attempt_at"`
	FirstEnqueuedAt int64     `json:"first_enqueued_at"`
	Status          Status    `json:"status"`
}

var (
	ErrNotFound = errors.New("queue: entry not found")
	ErrIO       = errors.New("queue: STORE_IO_FAIL")
)

var bucketEntries = []byte("queue_entries")

// Queue is a Bolt-backed durable store of Entry records, so pending
// transmissions survive a restart (§5 "Shutdown cancels all workers;
// pending queue entries MUST be persisted so they resume on restart").
type Queue struct {
	db *bolt.DB
}

// Open opens or creates the Bolt-backed queue database at path.
func Open(path string) (*Queue, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errWrap(err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketEntries)
		return e
	}); err != nil {
		db.Close()
		return nil, errWrap(err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error { return q.db.Close() }

// Enqueue inserts or overwrites e, keyed by PacketID.
func (q *Queue) Enqueue(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errWrap(err)
	}
	return errWrap(q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(e.PacketID), data)
	}))
}

// Get loads the entry for packetID.
func (q *Queue) Get(packetID string) (Entry, error) {
	var e Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(packetID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	if errors.Is(err, ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, errWrap(err)
	}
	return e, nil
}

// Delete removes packetID's entry. The hubs do not call it: ACK receipt
// and terminal failure change an entry's status and leave it queued.
func (q *Queue) Delete(packetID string) error {
	return errWrap(q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(packetID))
	}))
}

// UpdateStatus mutates a single entry's status field, serialized per
// §5's "Updates to a given QueueEntry are serialized" (Bolt's single
// writer transaction gives us that for free).
func (q *Queue) UpdateStatus(packetID string, status Status) error {
	return errWrap(q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		v := b.Get([]byte(packetID))
		if v == nil {
			return ErrNotFound
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		e.Status = status
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(packetID), data)
	}))
}

// Update loads packetID's entry, applies fn, and persists the result.
func (q *Queue) Update(packetID string, fn func(*Entry)) error {
	return errWrap(q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		v := b.Get([]byte(packetID))
		if v == nil {
			return ErrNotFound
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		fn(&e)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(packetID), data)
	}))
}

// All returns every entry currently in the queue, for reconciliation scans
// and restart recovery.
func (q *Queue) All() ([]Entry, error) {
	var entries []Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, errWrap(err)
	}
	return entries, nil
}

func errWrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return errors.Join(ErrIO, err)
}
