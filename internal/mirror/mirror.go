// Package mirror keeps the client's cached view of a coin balance.
//
// The confirmed value only ever comes from an authoritative server response.
// Holds are optimistic, display-only deductions; nothing that decides an
// unlock may read them.
package mirror

import "sync"

type Mirror struct {
	mu        sync.Mutex
	confirmed int64
	holds     map[int64]int64
	nextHold  int64
	subs      []chan int64
}

func New(initial int64) *Mirror {
	return &Mirror{confirmed: initial, holds: map[int64]int64{}}
}

// Reconcile overwrites the confirmed balance with the server's value.
func (m *Mirror) Reconcile(serverBalance int64) {
	m.mu.Lock()
	m.confirmed = serverBalance
	m.mu.Unlock()
	m.notify()
}

// Confirmed returns the last authoritative balance.
func (m *Mirror) Confirmed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

// Display returns the value to render: confirmed minus active holds, floored at zero.
func (m *Mirror) Display() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayLocked()
}

func (m *Mirror) displayLocked() int64 {
	v := m.confirmed
	for _, amount := range m.holds {
		v -= amount
	}
	if v < 0 {
		return 0
	}
	return v
}

// Pending reports the sum of active optimistic holds.
func (m *Mirror) Pending() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, amount := range m.holds {
		total += amount
	}
	return total
}

// Hold shows amount as already spent until the hold is released or rolled back.
func (m *Mirror) Hold(amount int64) *Hold {
	m.mu.Lock()
	m.nextHold++
	id := m.nextHold
	m.holds[id] = amount
	m.mu.Unlock()
	m.notify()
	return &Hold{m: m, id: id}
}

// Subscribe returns a channel receiving display values after every change.
// Slow receivers miss intermediate values.
func (m *Mirror) Subscribe(buffer int) <-chan int64 {
	ch := make(chan int64, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Mirror) drop(id int64) {
	m.mu.Lock()
	_, ok := m.holds[id]
	delete(m.holds, id)
	m.mu.Unlock()
	if ok {
		m.notify()
	}
}

func (m *Mirror) notify() {
	m.mu.Lock()
	v := m.displayLocked()
	subs := make([]chan int64, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Hold is one optimistic deduction. Release and Rollback are idempotent.
type Hold struct {
	m    *Mirror
	id   int64
	once sync.Once
}

// Release drops the hold without touching the confirmed balance.
func (h *Hold) Release() { h.once.Do(func() { h.m.drop(h.id) }) }

// Settle drops the hold and reconciles with the server balance as a single
// change, so subscribers never see the spend counted twice.
func (h *Hold) Settle(serverBalance int64) {
	first := false
	h.once.Do(func() { first = true })
	m := h.m
	m.mu.Lock()
	if first {
		delete(m.holds, h.id)
	}
	m.confirmed = serverBalance
	m.mu.Unlock()
	m.notify()
}

// Rollback drops the hold after a failed spend.
func (h *Hold) Rollback() { h.once.Do(func() { h.m.drop(h.id) }) }
