// Package balance defines the coin Balance Store contract shared by the
// server ledger, the in-memory store and the HTTP client.
package balance

import (
	"context"
	"fmt"
	"math"
)

// Entry types recorded in the ledger.
const (
	EntryDebit  = "DEBIT"
	EntryCredit = "CREDIT"
	EntryReward = "REWARD"
)

// DebitRequest asks the store to take Amount coins from AccountID.
//
// RequestID is the idempotency key, scoped to the account: a repeated
// RequestID returns the first receipt and never charges again. Reusing it for
// another content or amount fails with ErrRequestConflict. When ContentID is set the store charges an
// account for that content at most once.
type DebitRequest struct {
	AccountID int64
	Amount    int64
	RequestID string
	ContentID string
	Remark    string
}

// CreditRequest asks the store to add Amount coins to AccountID.
type CreditRequest struct {
	AccountID int64
	Amount    int64
	RequestID string
	Type      string
	Remark    string
}

// Receipt is the authoritative outcome of a debit or credit.
type Receipt struct {
	AccountID       int64  `json:"account_id"`
	Balance         int64  `json:"balance"`
	Amount          int64  `json:"amount"`
	EntryNo         string `json:"entry_no,omitempty"`
	Replayed        bool   `json:"replayed,omitempty"`
	AlreadyUnlocked bool   `json:"already_unlocked,omitempty"`
}

type Debiter interface {
	Debit(ctx context.Context, req DebitRequest) (Receipt, error)
}

type Crediter interface {
	Credit(ctx context.Context, req CreditRequest) (Receipt, error)
}

// Store is the full server-side contract.
type Store interface {
	Debiter
	Crediter
	Balance(ctx context.Context, accountID int64) (int64, error)
}

func (r DebitRequest) Validate() error {
	if r.AccountID == 0 || r.RequestID == "" {
		return ErrInvalidRequest
	}
	if r.Amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (r CreditRequest) Validate() error {
	if r.AccountID == 0 || r.RequestID == "" {
		return ErrInvalidRequest
	}
	if r.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// CheckedAdd adds delta to base, refusing signed overflow.
func CheckedAdd(base, delta int64) (int64, error) {
	if delta > 0 && base > math.MaxInt64-delta {
		return 0, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	return base + delta, nil
}
