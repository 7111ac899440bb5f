package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/model"
	"flirtmarket/internal/repository"
	"flirtmarket/pkg/idgen"
)

const maxVersionRetries = 3

// Locker serializes mutations of one account across service instances.
type Locker interface {
	Acquire(ctx context.Context, userID int64, token string) (release func(), err error)
}

// BalanceCache caches confirmed balances. Optional.
type BalanceCache interface {
	Get(ctx context.Context, userID int64) (int64, bool, error)
	Set(ctx context.Context, userID, balance int64) error
}

// LedgerService is the MySQL-backed balance.Store. Every mutation writes the
// account update, its ledger entry, the unlock row (for content debits) and
// an outbox message in one transaction.
type LedgerService struct {
	db          *gorm.DB
	locker      Locker
	cache       BalanceCache
	ids         *idgen.Snowflake
	topic       string
	log         *slog.Logger
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	unlockRepo  *repository.UnlockRepository
	outboxRepo  *repository.OutboxRepository
}

type LedgerOption func(*LedgerService)

func WithBalanceCache(c BalanceCache) LedgerOption {
	return func(s *LedgerService) { s.cache = c }
}

func WithLedgerLogger(l *slog.Logger) LedgerOption {
	return func(s *LedgerService) { s.log = l }
}

func NewLedgerService(db *gorm.DB, locker Locker, ids *idgen.Snowflake, topic string, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		db:          db,
		locker:      locker,
		ids:         ids,
		topic:       topic,
		log:         slog.Default(),
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		unlockRepo:  repository.NewUnlockRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func serviceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", balance.ErrService, op, err)
}

func receiptFromEntry(e *model.LedgerEntry) balance.Receipt {
	amount := e.Amount
	if amount < 0 {
		amount = -amount
	}
	return balance.Receipt{
		AccountID: e.UserID,
		Balance:   e.BalanceAfter,
		Amount:    amount,
		EntryNo:   e.EntryNo,
		Replayed:  true,
	}
}

// replayKey is what a request id must have been used for to be replayed.
type replayKey struct {
	userID    int64
	requestID string
	entryType string
	contentID string
	amount    int64 // signed, as stored
}

// replay returns the stored receipt for the key, if any. An entry written
// for another type, content or amount is a conflict.
func (s *LedgerService) replay(ctx context.Context, k replayKey) (*balance.Receipt, error) {
	entry, err := s.ledgerRepo.GetByRequestID(ctx, k.userID, k.requestID)
	if err != nil {
		return nil, serviceErr("lookup request", err)
	}
	if entry == nil {
		return nil, nil
	}
	if entry.Type != k.entryType || entry.ContentID != k.contentID || entry.Amount != k.amount {
		s.log.Warn("request id reused for a different operation",
			"user_id", k.userID, "request_id", k.requestID, "entry_no", entry.EntryNo)
		return nil, balance.ErrRequestConflict
	}
	r := receiptFromEntry(entry)
	return &r, nil
}

func (s *LedgerService) lock(ctx context.Context, userID int64, requestID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, userID, requestID)
	if err != nil {
		return nil, serviceErr("account busy", err)
	}
	return release, nil
}

func (s *LedgerService) Balance(ctx context.Context, accountID int64) (int64, error) {
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, accountID); err == nil && ok {
			return v, nil
		}
	}
	account, err := s.accountRepo.GetOrCreate(ctx, accountID, "")
	if err != nil {
		return 0, serviceErr("load account", err)
	}
	s.remember(ctx, accountID, account.Balance)
	return account.Balance, nil
}

func (s *LedgerService) remember(ctx context.Context, userID, bal int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, userID, bal); err != nil {
		s.log.Warn("balance cache write failed", "user_id", userID, "err", err)
	}
}

func (s *LedgerService) Debit(ctx context.Context, req balance.DebitRequest) (balance.Receipt, error) {
	if err := req.Validate(); err != nil {
		return balance.Receipt{}, err
	}
	key := replayKey{
		userID:    req.AccountID,
		requestID: req.RequestID,
		entryType: balance.EntryDebit,
		contentID: req.ContentID,
		amount:    -req.Amount,
	}

	if r, err := s.replay(ctx, key); err != nil || r != nil {
		return derefReceipt(r), err
	}

	release, err := s.lock(ctx, req.AccountID, req.RequestID)
	if err != nil {
		return balance.Receipt{}, err
	}
	defer release()

	// recheck under the lock
	if r, err := s.replay(ctx, key); err != nil || r != nil {
		return derefReceipt(r), err
	}

	if req.ContentID != "" {
		unlock, err := s.unlockRepo.Get(ctx, req.AccountID, req.ContentID)
		if err != nil {
			return balance.Receipt{}, serviceErr("lookup unlock", err)
		}
		if unlock != nil {
			bal, err := s.Balance(ctx, req.AccountID)
			if err != nil {
				return balance.Receipt{}, err
			}
			return balance.Receipt{
				AccountID:       req.AccountID,
				Balance:         bal,
				EntryNo:         unlock.EntryNo,
				AlreadyUnlocked: true,
			}, nil
		}
	}

	var receipt balance.Receipt
	for attempt := 0; ; attempt++ {
		receipt, err = s.debitOnce(ctx, req)
		if !errors.Is(err, repository.ErrOptimisticLock) || attempt+1 >= maxVersionRetries {
			break
		}
	}
	if err != nil {
		if errors.Is(err, balance.ErrInsufficientFunds) || errors.Is(err, balance.ErrService) {
			return balance.Receipt{}, err
		}
		return balance.Receipt{}, serviceErr("debit", err)
	}

	s.remember(ctx, req.AccountID, receipt.Balance)
	s.log.Info("debit committed",
		"entry_no", receipt.EntryNo, "user_id", req.AccountID,
		"amount", req.Amount, "content_id", req.ContentID, "balance", receipt.Balance)
	return receipt, nil
}

func (s *LedgerService) debitOnce(ctx context.Context, req balance.DebitRequest) (balance.Receipt, error) {
	account, err := s.accountRepo.GetOrCreate(ctx, req.AccountID, "")
	if err != nil {
		return balance.Receipt{}, serviceErr("load account", err)
	}
	if account.Balance < req.Amount {
		return balance.Receipt{}, &balance.InsufficientFundsError{Balance: account.Balance, Amount: req.Amount}
	}

	entry := &model.LedgerEntry{
		EntryNo:       s.ids.EntryNo(),
		RequestID:     req.RequestID,
		UserID:        req.AccountID,
		Amount:        -req.Amount,
		Type:          balance.EntryDebit,
		ContentID:     req.ContentID,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance - req.Amount,
		Remark:        req.Remark,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Deduct(ctx, tx, req.AccountID, req.Amount, account.Version); err != nil {
			return err
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("write ledger entry: %w", err)
		}
		if req.ContentID != "" {
			unlock := &model.Unlock{
				UserID:    req.AccountID,
				ContentID: req.ContentID,
				EntryNo:   entry.EntryNo,
				Amount:    req.Amount,
			}
			if err := s.unlockRepo.Create(ctx, tx, unlock); err != nil {
				return fmt.Errorf("write unlock: %w", err)
			}
		}
		return s.enqueue(ctx, tx, entry)
	})
	if err != nil {
		return balance.Receipt{}, err
	}

	return balance.Receipt{
		AccountID: req.AccountID,
		Balance:   entry.BalanceAfter,
		Amount:    req.Amount,
		EntryNo:   entry.EntryNo,
	}, nil
}

func (s *LedgerService) Credit(ctx context.Context, req balance.CreditRequest) (balance.Receipt, error) {
	if err := req.Validate(); err != nil {
		return balance.Receipt{}, err
	}
	if req.Type == "" {
		req.Type = balance.EntryCredit
	}
	key := replayKey{
		userID:    req.AccountID,
		requestID: req.RequestID,
		entryType: req.Type,
		amount:    req.Amount,
	}

	if r, err := s.replay(ctx, key); err != nil || r != nil {
		return derefReceipt(r), err
	}

	release, err := s.lock(ctx, req.AccountID, req.RequestID)
	if err != nil {
		return balance.Receipt{}, err
	}
	defer release()

	if r, err := s.replay(ctx, key); err != nil || r != nil {
		return derefReceipt(r), err
	}

	var receipt balance.Receipt
	for attempt := 0; ; attempt++ {
		receipt, err = s.creditOnce(ctx, req)
		if !errors.Is(err, repository.ErrOptimisticLock) || attempt+1 >= maxVersionRetries {
			break
		}
	}
	if err != nil {
		if errors.Is(err, balance.ErrInvalidAmount) || errors.Is(err, balance.ErrService) {
			return balance.Receipt{}, err
		}
		return balance.Receipt{}, serviceErr("credit", err)
	}

	s.remember(ctx, req.AccountID, receipt.Balance)
	s.log.Info("credit committed",
		"entry_no", receipt.EntryNo, "user_id", req.AccountID,
		"amount", req.Amount, "type", req.Type, "balance", receipt.Balance)
	return receipt, nil
}

func (s *LedgerService) creditOnce(ctx context.Context, req balance.CreditRequest) (balance.Receipt, error) {
	account, err := s.accountRepo.GetOrCreate(ctx, req.AccountID, "")
	if err != nil {
		return balance.Receipt{}, serviceErr("load account", err)
	}
	after, err := balance.CheckedAdd(account.Balance, req.Amount)
	if err != nil {
		return balance.Receipt{}, err
	}

	entry := &model.LedgerEntry{
		EntryNo:       s.ids.EntryNo(),
		RequestID:     req.RequestID,
		UserID:        req.AccountID,
		Amount:        req.Amount,
		Type:          req.Type,
		BalanceBefore: account.Balance,
		BalanceAfter:  after,
		Remark:        req.Remark,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Increase(ctx, tx, req.AccountID, req.Amount, account.Version); err != nil {
			return err
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("write ledger entry: %w", err)
		}
		return s.enqueue(ctx, tx, entry)
	})
	if err != nil {
		return balance.Receipt{}, err
	}

	return balance.Receipt{
		AccountID: req.AccountID,
		Balance:   after,
		Amount:    req.Amount,
		EntryNo:   entry.EntryNo,
	}, nil
}

func (s *LedgerService) enqueue(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	payload, err := json.Marshal(model.LedgerEvent{
		EntryNo:   entry.EntryNo,
		UserID:    entry.UserID,
		Type:      entry.Type,
		Amount:    entry.Amount,
		Balance:   entry.BalanceAfter,
		ContentID: entry.ContentID,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(entry.UserID, 10),
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

func derefReceipt(r *balance.Receipt) balance.Receipt {
	if r == nil {
		return balance.Receipt{}
	}
	return *r
}

var _ balance.Store = (*LedgerService)(nil)
