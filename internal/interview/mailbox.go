package interview

import "sync"

// mailbox is an unbounded FIFO of controller events. post never blocks,
// so device, timer and network goroutines can report back while the
// controller is busy.
type mailbox struct {
	mu     sync.Mutex
	queue  []any
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(e any) {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
