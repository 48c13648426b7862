package event

import "copytrade_go/internal/domain"

// DefaultCapacity is the push buffer size used when none is configured.
const DefaultCapacity = 50

// Buffer holds the most recent push events for one subject, newest first.
// When full, the oldest entry is dropped silently.
//
// Buffer is not safe for concurrent use; the owning feed guards it.
type Buffer struct {
	items    []domain.TradeEvent
	capacity int
}

// NewBuffer creates a buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		items:    make([]domain.TradeEvent, 0, capacity),
		capacity: capacity,
	}
}

// Push records ev as the newest entry. A redelivered id replaces its older copy
// so duplicates from the push source do not consume capacity.
func (b *Buffer) Push(ev domain.TradeEvent) {
	for i := range b.items {
		if b.items[i].ID == ev.ID {
			b.items = append(b.items[:i], b.items[i+1:]...)
			break
		}
	}

	if len(b.items) == b.capacity {
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, domain.TradeEvent{})
	copy(b.items[1:], b.items)
	b.items[0] = ev
}

// Items returns a copy of the buffered events, newest first.
func (b *Buffer) Items() []domain.TradeEvent {
	out := make([]domain.TradeEvent, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	clear(b.items)
	b.items = b.items[:0]
}
