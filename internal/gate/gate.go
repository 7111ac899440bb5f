// Package gate implements the coin-priced unlock state machine.
//
// A Gate guards one piece of content:
//
//	Locked --AttemptUnlock--> Unlocking --debit ok--> Unlocked
//	                              \------any failure--> Locked
//
// The state guard is the mutual exclusion: while Unlocking, further attempts
// are rejected with balance.ErrAlreadyInProgress instead of issuing a second
// debit. Unlocked is terminal.
package gate

import (
	"context"
	"errors"
	"sync"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/mirror"
)

type State int

const (
	Locked State = iota
	Unlocking
	Unlocked
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	}
	return "unknown"
}

// Content is a unit of lockable content.
type Content struct {
	ID   string
	Cost int64
}

// Outcome describes a successful AttemptUnlock. Balance is the last
// server-confirmed balance the gate knows of. A gate built with NewUnlocked
// that never dispatched reports the mirror's confirmed value, or zero
// without a mirror.
type Outcome struct {
	Balance         int64
	Charged         int64
	AlreadyUnlocked bool
}

type Gate struct {
	content    Content
	dispatcher *Dispatcher
	mirror     *mirror.Mirror

	mu          sync.Mutex
	state       State
	retryKey    string
	lastReceipt balance.Receipt
	receipted   bool
}

// New returns a Locked gate for content. m may be nil.
func New(content Content, d *Dispatcher, m *mirror.Mirror) *Gate {
	return &Gate{content: content, dispatcher: d, mirror: m, state: Locked}
}

// NewUnlocked returns a gate for content the caller already knows is paid for.
func NewUnlocked(content Content, d *Dispatcher, m *mirror.Mirror) *Gate {
	g := New(content, d, m)
	g.state = Unlocked
	return g
}

func (g *Gate) Content() Content { return g.content }

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AttemptUnlock charges accountID for the content and reveals it.
//
// Calling it on Unlocked content is a no-op success. A retryable failure
// leaves the idempotency key of the failed attempt in place, so the next call
// asks the store to replay rather than charge again.
func (g *Gate) AttemptUnlock(ctx context.Context, accountID int64) (Outcome, error) {
	g.mu.Lock()
	switch g.state {
	case Unlocked:
		out := Outcome{Balance: g.lastReceipt.Balance, AlreadyUnlocked: true}
		if !g.receipted && g.mirror != nil {
			out.Balance = g.mirror.Confirmed()
		}
		g.mu.Unlock()
		return out, nil
	case Unlocking:
		g.mu.Unlock()
		return Outcome{}, balance.ErrAlreadyInProgress
	}
	g.state = Unlocking
	attempt := &SpendAttempt{
		ContentID: g.content.ID,
		AccountID: accountID,
		Amount:    g.content.Cost,
		RequestID: g.retryKey,
	}
	g.mu.Unlock()

	var hold *mirror.Hold
	if g.mirror != nil && g.content.Cost > 0 {
		hold = g.mirror.Hold(g.content.Cost)
	}

	receipt, err := g.dispatcher.Dispatch(ctx, attempt)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.state = Locked
		if balance.IsRetryable(err) {
			g.retryKey = attempt.RequestID
		} else {
			g.retryKey = ""
		}
		if hold != nil {
			hold.Rollback()
		}
		var insufficient *balance.InsufficientFundsError
		if g.mirror != nil && errors.As(err, &insufficient) {
			g.mirror.Reconcile(insufficient.Balance)
		}
		return Outcome{}, err
	}

	g.state = Unlocked
	g.retryKey = ""
	g.lastReceipt = receipt
	g.receipted = true
	switch {
	case hold != nil:
		hold.Settle(receipt.Balance)
	case g.mirror != nil:
		g.mirror.Reconcile(receipt.Balance)
	}

	out := Outcome{Balance: receipt.Balance, AlreadyUnlocked: receipt.AlreadyUnlocked}
	if !receipt.AlreadyUnlocked {
		out.Charged = receipt.Amount
	}
	return out, nil
}
