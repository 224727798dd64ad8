package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/venderneutral/kyusub"
)

var errStopped = errors.New("memory: receiver stopped")

// mailbox is a FIFO of messages that wakes every waiter on each put.
type mailbox struct {
	mu     sync.Mutex
	items  []*kyusub.Message
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{})}
}

func (m *mailbox) put(msg *kyusub.Message) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.wake()
	m.mu.Unlock()
}

// requeue puts msgs back at the head, preserving their order.
func (m *mailbox) requeue(msgs []*kyusub.Message) {
	if len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	m.items = append(append(make([]*kyusub.Message, 0, len(msgs)+len(m.items)), msgs...), m.items...)
	m.wake()
	m.mu.Unlock()
}

// wake releases current waiters. m.mu must be held.
func (m *mailbox) wake() {
	close(m.signal)
	m.signal = make(chan struct{})
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// take removes and returns the first message accepted by match, waiting
// until one arrives, ctx is done, or stop is closed.
func (m *mailbox) take(ctx context.Context, stop <-chan struct{}, match func(*kyusub.Message) bool) (*kyusub.Message, error) {
	for {
		m.mu.Lock()
		for i, msg := range m.items {
			if match(msg) {
				m.items = append(m.items[:i], m.items[i+1:]...)
				m.mu.Unlock()
				return msg, nil
			}
		}
		signal := m.signal
		m.mu.Unlock()

		select {
		case <-signal:
		case <-stop:
			return nil, errStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
