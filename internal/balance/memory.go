package balance

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a concurrent in-process Store. Each account is guarded by
// its own mutex so mutations on one account are serialized while different
// accounts proceed in parallel.
type MemoryStore struct {
	accounts sync.Map // map[int64]*memAccount
	seq      sync.Mutex
	next     int64
}

type memAccount struct {
	mu       sync.Mutex
	balance  int64
	receipts map[string]memEntry
	unlocked map[string]string // content id -> entry no
}

// memEntry keeps what a request id was used for next to its receipt.
type memEntry struct {
	receipt   Receipt
	kind      string
	contentID string
}

func (acc *memAccount) replay(requestID, kind, contentID string, amount int64) (Receipt, bool, error) {
	prev, ok := acc.receipts[requestID]
	if !ok {
		return Receipt{}, false, nil
	}
	if prev.kind != kind || prev.contentID != contentID || prev.receipt.Amount != amount {
		return Receipt{}, true, ErrRequestConflict
	}
	r := prev.receipt
	r.Replayed = true
	return r, true, nil
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) account(id int64) *memAccount {
	if v, ok := s.accounts.Load(id); ok {
		return v.(*memAccount)
	}
	acc := &memAccount{receipts: map[string]memEntry{}, unlocked: map[string]string{}}
	actual, _ := s.accounts.LoadOrStore(id, acc)
	return actual.(*memAccount)
}

func (s *MemoryStore) entryNo(prefix string) string {
	s.seq.Lock()
	defer s.seq.Unlock()
	s.next++
	return fmt.Sprintf("%s%08d", prefix, s.next)
}

func (s *MemoryStore) Balance(_ context.Context, accountID int64) (int64, error) {
	acc := s.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance, nil
}

func (s *MemoryStore) Debit(_ context.Context, req DebitRequest) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}
	acc := s.account(req.AccountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if r, ok, err := acc.replay(req.RequestID, EntryDebit, req.ContentID, req.Amount); ok {
		return r, err
	}
	if req.ContentID != "" {
		if entry, ok := acc.unlocked[req.ContentID]; ok {
			return Receipt{AccountID: req.AccountID, Balance: acc.balance, EntryNo: entry, AlreadyUnlocked: true}, nil
		}
	}
	if acc.balance < req.Amount {
		return Receipt{}, &InsufficientFundsError{Balance: acc.balance, Amount: req.Amount}
	}

	acc.balance -= req.Amount
	r := Receipt{
		AccountID: req.AccountID,
		Balance:   acc.balance,
		Amount:    req.Amount,
		EntryNo:   s.entryNo("TXN"),
	}
	acc.receipts[req.RequestID] = memEntry{receipt: r, kind: EntryDebit, contentID: req.ContentID}
	if req.ContentID != "" {
		acc.unlocked[req.ContentID] = r.EntryNo
	}
	return r, nil
}

func (s *MemoryStore) Credit(_ context.Context, req CreditRequest) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}
	if req.Type == "" {
		req.Type = EntryCredit
	}
	acc := s.account(req.AccountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if r, ok, err := acc.replay(req.RequestID, req.Type, "", req.Amount); ok {
		return r, err
	}
	next, err := CheckedAdd(acc.balance, req.Amount)
	if err != nil {
		return Receipt{}, err
	}
	acc.balance = next
	r := Receipt{
		AccountID: req.AccountID,
		Balance:   acc.balance,
		Amount:    req.Amount,
		EntryNo:   s.entryNo("TXN"),
	}
	acc.receipts[req.RequestID] = memEntry{receipt: r, kind: req.Type}
	return r, nil
}

var _ Store = (*MemoryStore)(nil)
