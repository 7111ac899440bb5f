package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flirtmarket/internal/balance"

	"github.com/google/uuid"
)

// Result is the outcome of one SpendAttempt.
type Result int

const (
	Pending Result = iota
	Success
	InsufficientFunds
	Failed
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case InsufficientFunds:
		return "insufficient_funds"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SpendAttempt is a single debit request made on behalf of one gate.
type SpendAttempt struct {
	ContentID string
	AccountID int64
	Amount    int64
	RequestID string
	Result    Result
}

const DefaultTimeout = 10 * time.Second

// Dispatcher sends debits to the Balance Store and classifies the outcome.
type Dispatcher struct {
	store   balance.Debiter
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ds *Dispatcher) {
		if l != nil {
			ds.logger = l
		}
	}
}

func NewDispatcher(store balance.Debiter, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewRequestID returns a fresh idempotency key for a SpendAttempt.
func NewRequestID() string { return uuid.NewString() }

type debitOutcome struct {
	receipt balance.Receipt
	err     error
}

// Dispatch performs the debit for attempt and records its Result. It returns
// within the configured timeout even if the store ignores ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, attempt *SpendAttempt) (balance.Receipt, error) {
	if attempt.RequestID == "" {
		attempt.RequestID = NewRequestID()
	}
	attempt.Result = Pending

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan debitOutcome, 1)
	go func() {
		r, err := d.store.Debit(ctx, balance.DebitRequest{
			AccountID: attempt.AccountID,
			Amount:    attempt.Amount,
			RequestID: attempt.RequestID,
			ContentID: attempt.ContentID,
		})
		done <- debitOutcome{receipt: r, err: err}
	}()

	var out debitOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	switch {
	case out.err == nil:
		attempt.Result = Success
		return out.receipt, nil
	case errors.Is(out.err, balance.ErrInsufficientFunds):
		attempt.Result = InsufficientFunds
		return balance.Receipt{}, out.err
	case errors.Is(out.err, context.DeadlineExceeded):
		attempt.Result = Failed
		d.logger.Warn("debit timed out",
			"content_id", attempt.ContentID,
			"account_id", attempt.AccountID,
			"request_id", attempt.RequestID,
			"timeout", d.timeout,
		)
		return balance.Receipt{}, fmt.Errorf("%w after %s", balance.ErrTimeout, d.timeout)
	case errors.Is(out.err, context.Canceled):
		attempt.Result = Failed
		return balance.Receipt{}, fmt.Errorf("%w: %v", balance.ErrService, out.err)
	case balance.IsRetryable(out.err), balance.IsPermanent(out.err):
		attempt.Result = Failed
		return balance.Receipt{}, out.err
	default:
		attempt.Result = Failed
		d.logger.Error("debit failed",
			"content_id", attempt.ContentID,
			"account_id", attempt.AccountID,
			"request_id", attempt.RequestID,
			"error", out.err,
		)
		return balance.Receipt{}, fmt.Errorf("%w: %v", balance.ErrService, out.err)
	}
}
