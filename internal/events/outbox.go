// internal/events/outbox.go
package events

import "sync"

// Outbox is the ordered staging queue between the ledgers and the durable
// journal. Append never fails and never blocks, so it is safe to call from
// inside a ledger's settlement path; the relay drains it in FIFO order.
type Outbox struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

// Append stages an event and wakes the relay.
func (o *Outbox) Append(event Event) {
	o.mu.Lock()
	o.queue = append(o.queue, event)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns up to max staged events, oldest first. A max of
// zero or less drains everything.
func (o *Outbox) Drain(max int) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) == 0 {
		return nil
	}
	n := len(o.queue)
	if max > 0 && max < n {
		n = max
	}
	batch := make([]Event, n)
	copy(batch, o.queue[:n])
	o.queue = o.queue[n:]
	if len(o.queue) == 0 {
		o.queue = nil
	}
	return batch
}

// Requeue puts undelivered events back at the head, preserving their order
// ahead of anything staged since.
func (o *Outbox) Requeue(batch []Event) {
	if len(batch) == 0 {
		return
	}
	o.mu.Lock()
	o.queue = append(append(make([]Event, 0, len(batch)+len(o.queue)), batch...), o.queue...)
	o.mu.Unlock()
}

// Len reports how many events are staged.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Ready signals when new events arrive. The channel is coalescing: one
// receive may cover many appends, so drain until empty after each wake.
func (o *Outbox) Ready() <-chan struct{} {
	return o.notify
}
