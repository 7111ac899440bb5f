// Package realtime fans balance changes out to connected clients.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"flirtmarket/internal/reward"
)

// BalanceEvent is pushed to every subscriber of an account.
type BalanceEvent struct {
	AccountID int64     `json:"account_id"`
	Balance   int64     `json:"balance"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

type subscriber struct {
	ch chan BalanceEvent
}

// Hub keeps per-account subscriber sets. Publishing never blocks: a
// subscriber whose buffer is full misses the event and counts as a drop.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]map[*subscriber]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: map[int64]map[*subscriber]struct{}{}}
}

// Subscribe returns the event channel and a cancel func that closes it.
func (h *Hub) Subscribe(accountID int64, buffer int) (<-chan BalanceEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan BalanceEvent, buffer)}

	h.mu.Lock()
	set, ok := h.subs[accountID]
	if !ok {
		set = map[*subscriber]struct{}{}
		h.subs[accountID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[accountID], s)
			if len(h.subs[accountID]) == 0 {
				delete(h.subs, accountID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

func (h *Hub) Publish(ev BalanceEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ev.AccountID] {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}

func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// RewardGranted lets the hub act as a reward sink.
func (h *Hub) RewardGranted(_ context.Context, ev reward.Event) {
	if ev.Amount <= 0 {
		return
	}
	h.Publish(BalanceEvent{
		AccountID: ev.AccountID,
		Balance:   ev.Balance,
		Delta:     ev.Amount,
		Reason:    "reward:" + ev.Source,
		At:        ev.Timestamp,
	})
}
