package usecase

import (
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const progressBuffer = 64

// ProgressBroadcaster fans queue events out to subscribers. Slow subscribers
// lose events instead of blocking the queue.
type ProgressBroadcaster struct {
	mu     sync.Mutex
	subs   map[chan domain.ProgressEvent]struct{}
	now    func() time.Time
	closed bool
}

func NewProgressBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{
		subs: make(map[chan domain.ProgressEvent]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe returns the event channel and a func that unsubscribes and
// closes it.
func (b *ProgressBroadcaster) Subscribe() (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, progressBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *ProgressBroadcaster) Publish(event domain.ProgressEvent) {
	if event.At.IsZero() {
		event.At = b.now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close ends every subscription.
func (b *ProgressBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
