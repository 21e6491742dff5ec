package minihub

import "sync"

// EventType enumerates mini-hub lifecycle events published for an
// operator/dashboard consumer (out of scope as a feature, but the
// publish mechanism itself is ambient infrastructure, ported from the
// teacher's EventPublisher/TransferEvent pattern).
type EventType int

const (
	EventQueryReceived EventType = iota
	EventCapsuleCached
	EventQueueRetry
	EventQueueFailed
	EventManifestReceived
	EventSyncConverged
)

// Event is a single published occurrence.
type Event struct {
	Type    EventType
	UserID  string
	Detail  string
}

// Publisher fans Events out to subscribers without blocking the
// publishing goroutine: a full subscriber channel drops the event rather
// than stalling query handling.
type Publisher struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given buffer depth.
func (p *Publisher) Subscribe(buffer int) (id int, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id = p.next
	p.next++
	c := make(chan Event, buffer)
	p.subs[id] = c
	return id, c
}

// Unsubscribe removes and closes a listener.
func (p *Publisher) Unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.subs[id]; ok {
		close(c)
		delete(p.subs, id)
	}
}

// Publish delivers ev to every subscriber, dropping it for any subscriber
// whose buffer is full.
func (p *Publisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.subs {
		select {
		case c <- ev:
		default:
		}
	}
}
