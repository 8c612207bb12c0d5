// Package eventbus fans restriction lifecycle events out to in-process
// listeners. Publish never blocks; a full subscriber misses the event and
// the miss is counted.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(e Event)
}

type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	ch     chan Event
	prefix string
}

func New() *Bus {
	return &Bus{subs: map[uint64]*subscriber{}}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Unsubscribe takes the write lock before closing, so no send races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(e.Type, s.prefix) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe delivers every event whose Type starts with prefix ("" for all).
// The returned func is idempotent and closes the channel.
func (b *Bus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), prefix: prefix}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}
