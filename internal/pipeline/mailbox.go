package pipeline

import "sync"

// Mailbox is a single-slot hand-off between one producer side and one
// consumer goroutine. Put never blocks: a newer value overwrites an
// unconsumed one. Take blocks until a value arrives or the mailbox closes.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	val    T
	full   bool
	closed bool
	drops  uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores v. It reports whether an unconsumed value was overwritten.
// Put on a closed mailbox is a no-op.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	overwrote := m.full
	if overwrote {
		m.drops++
	}
	m.val = v
	m.full = true
	m.cond.Signal()
	return overwrote
}

// Take waits for a value. ok is false once the mailbox is closed; a value
// pending at close time is discarded.
func (m *Mailbox[T]) Take() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.full && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return v, false
	}
	return m.consume(), true
}

// TryTake returns the pending value without waiting.
func (m *Mailbox[T]) TryTake() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full || m.closed {
		return v, false
	}
	return m.consume(), true
}

func (m *Mailbox[T]) consume() T {
	v := m.val
	var zero T
	m.val = zero
	m.full = false
	return v
}

// Close wakes a blocked Take. Idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	var zero T
	m.val = zero
	m.full = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Drops returns the number of overwritten values.
func (m *Mailbox[T]) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// Pending reports whether a value is waiting.
func (m *Mailbox[T]) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full
}
