package server

import (
	"sync"

	"github.com/yourorg/speedbench/pkg/types"
)

const inboxCapacity = 64

// Inbox buffers session notifications until a client collects them.
// The oldest entries are dropped once it is full.
type Inbox struct {
	mu    sync.Mutex
	items []types.Notification
	next  func(types.Notification)
}

// NewInbox returns an Inbox that also forwards each notification to next
// when next is not nil.
func NewInbox(next func(types.Notification)) *Inbox {
	return &Inbox{next: next}
}

func (b *Inbox) Notify(n types.Notification) {
	b.mu.Lock()
	b.items = append(b.items, n)
	if len(b.items) > inboxCapacity {
		b.items = b.items[len(b.items)-inboxCapacity:]
	}
	b.mu.Unlock()
	if b.next != nil {
		b.next(n)
	}
}

// Drain returns and forgets the buffered notifications.
func (b *Inbox) Drain() []types.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []types.Notification{}
	}
	return out
}
