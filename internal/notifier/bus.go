// Package notifier fans accepted outcomes and strategy transitions out to live
// subscribers and keeps a bounded replay history.
package notifier

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

const (
	DefaultHistorySize = 100
	DefaultMailboxSize = 64
)

var ErrBusClosed = errors.New("notifier: bus closed")

// Subscription is one live consumer. Its channel is closed when the bus drops
// the subscriber, on Unsubscribe, or when the bus closes.
type Subscription struct {
	ch      chan models.Event
	dropped atomic.Bool
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan models.Event {
	return s.ch
}

// Dropped reports whether the bus removed the subscriber for falling behind.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped_subscribers"`
	Subscribers int    `json:"subscribers"`
	History     int    `json:"history"`
}

type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	mailbox     int
	closed      bool

	// ring buffer of the most recent events
	history []models.Event
	start   int
	count   int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bus keeping historySize events for replay and giving every
// subscriber a mailbox of mailboxSize events. Non-positive sizes use the defaults.
func New(historySize, mailboxSize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		mailbox:     mailboxSize,
		history:     make([]models.Event, historySize),
	}
}

// Publish records ev in the history and offers it to every subscriber without
// blocking. A subscriber whose mailbox is full is removed and its channel closed.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(ev)
	b.published.Add(1)
	if b.closed {
		return
	}

	for sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Store(true)
			b.remove(sub)
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) record(ev models.Event) {
	size := len(b.history)
	if b.count < size {
		b.history[(b.start+b.count)%size] = ev
		b.count++
		return
	}
	b.history[b.start] = ev
	b.start = (b.start + 1) % size
}

// Subscribe registers a new subscriber. The channel starts empty; call Replay to
// catch up on history.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &Subscription{ch: make(chan models.Event, b.mailbox)}
	b.subscribers[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. Unknown or already removed
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

func (b *Bus) remove(sub *Subscription) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Replay returns up to limit of the most recent events, oldest first.
// limit <= 0 returns the whole history.
func (b *Bus) Replay(limit int) []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Event, 0, n)
	size := len(b.history)
	for i := b.count - n; i < b.count; i++ {
		out = append(out, b.history[(b.start+i)%size])
	}
	return out
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: len(b.subscribers),
		History:     b.count,
	}
}

// Close closes every subscriber channel. Later publishes are still recorded in
// the history but reach no one.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		b.remove(sub)
	}
}
