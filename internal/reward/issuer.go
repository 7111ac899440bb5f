// Package reward credits coins from games and daily bonuses.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/mirror"
)

// Reward sources.
const (
	SourceWheel   = "wheel"
	SourceFortune = "fortune"
)

const dayLayout = "2006-01-02"

// Event records one granted reward.
type Event struct {
	AccountID int64     `json:"account_id"`
	Source    string    `json:"source"`
	Prize     string    `json:"prize,omitempty"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"` // set only when coins were credited
	Day       string    `json:"day"`
	Timestamp time.Time `json:"timestamp"`
}

// Eligibility owns the "claimed today" state for each account and source.
// RecordClaim must fail with balance.ErrAlreadyClaimed when the claim exists.
type Eligibility interface {
	Claimed(ctx context.Context, accountID int64, source, day string) (bool, error)
	RecordClaim(ctx context.Context, accountID int64, source, day string) error
	RevokeClaim(ctx context.Context, accountID int64, source, day string) error
}

// Sink receives granted rewards.
type Sink interface {
	RewardGranted(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) RewardGranted(ctx context.Context, ev Event) { f(ctx, ev) }

type Issuer struct {
	store       balance.Crediter
	eligibility Eligibility
	drawer      Drawer
	now         func() time.Time
	loc         *time.Location
	mirror      *mirror.Mirror
	sinks       []Sink
	logger      *slog.Logger

	// keyed per account:source so one process never races itself between
	// Claimed and RecordClaim; cross-process races fall to RecordClaim.
	locks sync.Map

	// prizes whose credit may have committed without a reply, by request id.
	// A later claim for the same day re-sends the same prize.
	unsettled sync.Map
}

type IssuerOption func(*Issuer)

func WithDrawer(d Drawer) IssuerOption { return func(i *Issuer) { i.drawer = d } }

func WithClock(now func() time.Time) IssuerOption { return func(i *Issuer) { i.now = now } }

func WithLocation(loc *time.Location) IssuerOption {
	return func(i *Issuer) {
		if loc != nil {
			i.loc = loc
		}
	}
}

// WithMirror reconciles m after each grant.
func WithMirror(m *mirror.Mirror) IssuerOption { return func(i *Issuer) { i.mirror = m } }

func WithSink(s Sink) IssuerOption { return func(i *Issuer) { i.sinks = append(i.sinks, s) } }

func WithIssuerLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if l != nil {
			i.logger = l
		}
	}
}

func NewIssuer(store balance.Crediter, eligibility Eligibility, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:       store,
		eligibility: eligibility,
		drawer:      NewRandDrawer(time.Now().UnixNano()),
		now:         time.Now,
		loc:         time.UTC,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Day returns the calendar day used for once-per-day limits.
func (i *Issuer) Day() string {
	return i.now().In(i.loc).Format(dayLayout)
}

// RequestID is the credit idempotency key for a claim.
func RequestID(accountID int64, source, day string) string {
	return fmt.Sprintf("reward:%s:%d:%s", source, accountID, day)
}

// Spin draws a prize from table and grants it.
func (i *Issuer) Spin(ctx context.Context, accountID int64, source string, table PrizeTable) (Event, error) {
	prize, err := table.Select(i.drawer.Float64())
	if err != nil {
		return Event{}, err
	}
	return i.grant(ctx, accountID, source, prize)
}

// Grant credits amount from source, at most once per day.
func (i *Issuer) Grant(ctx context.Context, accountID int64, source string, amount int64) (Event, error) {
	return i.grant(ctx, accountID, source, Prize{Amount: amount})
}

func (i *Issuer) grant(ctx context.Context, accountID int64, source string, prize Prize) (Event, error) {
	if prize.Amount < 0 {
		return Event{}, balance.ErrInvalidAmount
	}
	day := i.Day()
	requestID := RequestID(accountID, source, day)

	mu := i.lockFor(accountID, source)
	mu.Lock()
	defer mu.Unlock()

	claimed, err := i.eligibility.Claimed(ctx, accountID, source, day)
	if err != nil {
		return Event{}, fmt.Errorf("%w: eligibility: %v", balance.ErrService, err)
	}
	if claimed {
		return Event{}, balance.ErrAlreadyClaimed
	}
	if err := i.eligibility.RecordClaim(ctx, accountID, source, day); err != nil {
		if errors.Is(err, balance.ErrAlreadyClaimed) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: record claim: %v", balance.ErrService, err)
	}

	if v, ok := i.unsettled.Load(requestID); ok {
		prize = v.(Prize)
	}

	ev := Event{
		AccountID: accountID,
		Source:    source,
		Prize:     prize.Label,
		Amount:    prize.Amount,
		Day:       day,
		Timestamp: i.now().UTC(),
	}

	// a zero prize still consumes the day's claim
	if prize.Amount > 0 {
		receipt, err := i.store.Credit(ctx, balance.CreditRequest{
			AccountID: accountID,
			Amount:    prize.Amount,
			RequestID: requestID,
			Type:      balance.EntryReward,
			Remark:    fmt.Sprintf("reward-%s-%s", source, prize.Label),
		})
		if errors.Is(err, balance.ErrRequestConflict) {
			// another instance already credited a different prize for today
			i.unsettled.Delete(requestID)
			i.logger.Warn("reward already credited for today",
				"account_id", accountID, "source", source, "day", day)
			return Event{}, balance.ErrAlreadyClaimed
		}
		if err != nil {
			if revokeErr := i.eligibility.RevokeClaim(ctx, accountID, source, day); revokeErr != nil {
				i.logger.Error("revoke reward claim failed",
					"account_id", accountID, "source", source, "day", day, "error", revokeErr)
			}
			if balance.IsRetryable(err) {
				i.unsettled.Store(requestID, prize)
			} else {
				i.unsettled.Delete(requestID)
				err = fmt.Errorf("%w: %v", balance.ErrService, err)
			}
			return Event{}, err
		}
		i.unsettled.Delete(requestID)
		ev.Amount = receipt.Amount
		ev.Balance = receipt.Balance
		if i.mirror != nil {
			i.mirror.Reconcile(receipt.Balance)
		}
	}

	for _, s := range i.sinks {
		s.RewardGranted(ctx, ev)
	}
	return ev, nil
}

func (i *Issuer) lockFor(accountID int64, source string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", accountID, source)
	v, _ := i.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}
