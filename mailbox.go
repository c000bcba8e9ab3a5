package hive

import (
	"sync"
	"time"
)

// DefaultMailboxCapacity bounds a mailbox when no capacity is given.
const DefaultMailboxCapacity = 10000

// Mailbox is a bounded FIFO queue of inbound messages with blocking
// receive. Overflow drops the oldest queued message. Per-sender delivery
// order is preserved; cross-sender order is whatever Put interleaving
// produced.
type Mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Message
	capacity int
	closed   bool
}

// NewMailbox returns a mailbox bounded at capacity. A non-positive
// capacity falls back to DefaultMailboxCapacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	mb := &Mailbox{capacity: capacity}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

// Put enqueues m. When the mailbox is full the oldest message is dropped
// to make room. Put never blocks. Returns false if the mailbox is closed.
func (mb *Mailbox) Put(m Message) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return false
	}
	if len(mb.queue) >= mb.capacity {
		mb.queue = mb.queue[1:]
	}
	mb.queue = append(mb.queue, m)
	mb.cond.Signal()
	return true
}

// Take removes and returns up to max queued messages without blocking.
// max <= 0 means all.
func (mb *Mailbox) Take(max int) []Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.takeLocked(max)
}

// TakeWait blocks until at least one message is queued, the timeout
// elapses, or the mailbox is closed; it then returns up to max messages
// (max <= 0 means all). A nil return means timeout or closure.
func (mb *Mailbox) TakeWait(timeout time.Duration, max int) []Message {
	deadline := time.Now().Add(timeout)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for len(mb.queue) == 0 && !mb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		// sync.Cond has no timed wait; a timer broadcast bounds the sleep.
		t := time.AfterFunc(remaining, mb.cond.Broadcast)
		mb.cond.Wait()
		t.Stop()
	}
	return mb.takeLocked(max)
}

// TakeWhere removes and returns the first queued message satisfying
// pred, leaving everything else in place. It blocks until a match
// arrives, the timeout elapses, or the mailbox is closed. Consumers
// awaiting a specific kind or conversation use this.
func (mb *Mailbox) TakeWhere(timeout time.Duration, pred func(Message) bool) (Message, bool) {
	deadline := time.Now().Add(timeout)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for {
		for i, m := range mb.queue {
			if pred(m) {
				mb.queue = append(mb.queue[:i], mb.queue[i+1:]...)
				return m, true
			}
		}
		if mb.closed {
			return Message{}, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Message{}, false
		}
		t := time.AfterFunc(remaining, mb.cond.Broadcast)
		mb.cond.Wait()
		t.Stop()
	}
}

func (mb *Mailbox) takeLocked(max int) []Message {
	n := len(mb.queue)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]Message, n)
	copy(out, mb.queue[:n])
	mb.queue = mb.queue[n:]
	return out
}

// Len reports the number of queued messages.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// DiscardBefore drops every queued message older than cutoff (Unix
// milliseconds) and reports how many were dropped. The housekeeping loop
// calls this to enforce message retention.
func (mb *Mailbox) DiscardBefore(cutoff int64) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	kept := mb.queue[:0]
	for _, m := range mb.queue {
		if m.Timestamp >= cutoff {
			kept = append(kept, m)
		}
	}
	dropped := len(mb.queue) - len(kept)
	mb.queue = kept
	return dropped
}

// Close wakes all blocked receivers and rejects further puts. Idempotent.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	mb.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (mb *Mailbox) Closed() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}
