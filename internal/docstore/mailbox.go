package docstore

import "sync"

// Mailbox delivers change batches to one callback in order on its own
// goroutine. Post never blocks, so writers are not held up by slow readers
// and callbacks may call back into the store.
type Mailbox struct {
	fn func([]Change)

	mu      sync.Mutex
	queue   [][]Change
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func NewMailbox(fn func([]Change)) *Mailbox {
	m := &Mailbox{
		fn:      fn,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) Post(batch []Change) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, batch)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close drops anything still queued. It does not wait for an in-flight
// callback, so it is safe to call from inside one.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	close(m.done)
}

// Stopped is closed once the delivery goroutine has exited.
func (m *Mailbox) Stopped() <-chan struct{} { return m.stopped }

func (m *Mailbox) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			batch := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.fn(batch)
		}
	}
}
