package reward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/mirror"
)

func fixedClock(s string) func() time.Time {
	ts, _ := time.Parse(time.RFC3339, s)
	return func() time.Time { return ts }
}

func fundedStore(t *testing.T, amount int64) *balance.MemoryStore {
	t.Helper()
	s := balance.NewMemoryStore()
	_, err := s.Credit(context.Background(), balance.CreditRequest{AccountID: 1, Amount: amount, RequestID: "seed"})
	require.NoError(t, err)
	return s
}

func TestGrant_DailyOnce(t *testing.T) {
	store := fundedStore(t, 100)
	var events []Event
	m := mirror.New(100)
	issuer := NewIssuer(store, NewMemoryEligibility(),
		WithClock(fixedClock("2026-10-14T09:00:00Z")),
		WithMirror(m),
		WithSink(SinkFunc(func(_ context.Context, ev Event) { events = append(events, ev) })),
	)
	ctx := context.Background()

	ev, err := issuer.Grant(ctx, 1, SourceWheel, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(120), ev.Balance)
	assert.Equal(t, "2026-10-14", ev.Day)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(120), m.Confirmed())

	_, err = issuer.Grant(ctx, 1, SourceWheel, 20)
	assert.ErrorIs(t, err, balance.ErrAlreadyClaimed)

	bal, _ := store.Balance(ctx, 1)
	assert.Equal(t, int64(120), bal)
	assert.Len(t, events, 1)
}

func TestGrant_NextDayEligibleAgain(t *testing.T) {
	store := fundedStore(t, 100)
	now := fixedClock("2026-10-14T23:30:00Z")
	issuer := NewIssuer(store, NewMemoryEligibility(), WithClock(func() time.Time { return now() }))
	ctx := context.Background()

	_, err := issuer.Grant(ctx, 1, SourceWheel, 20)
	require.NoError(t, err)

	now = fixedClock("2026-10-15T00:10:00Z")
	ev, err := issuer.Grant(ctx, 1, SourceWheel, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(140), ev.Balance)
}

func TestGrant_DayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	issuer := NewIssuer(balance.NewMemoryStore(), NewMemoryEligibility(),
		WithClock(fixedClock("2026-10-14T22:30:00Z")), WithLocation(loc))
	assert.Equal(t, "2026-10-15", issuer.Day())
}

func TestGrant_SourcesAreIndependent(t *testing.T) {
	store := fundedStore(t, 1)
	issuer := NewIssuer(store, NewMemoryEligibility(), WithClock(fixedClock("2026-10-14T09:00:00Z")))
	ctx := context.Background()

	_, err := issuer.Grant(ctx, 1, SourceWheel, 10)
	require.NoError(t, err)
	_, err = issuer.Grant(ctx, 1, SourceFortune, 5)
	require.NoError(t, err)

	bal, _ := store.Balance(ctx, 1)
	assert.Equal(t, int64(16), bal)
}

type brokenCrediter struct{}

func (brokenCrediter) Credit(context.Context, balance.CreditRequest) (balance.Receipt, error) {
	return balance.Receipt{}, errors.New("db down")
}

func TestGrant_CreditFailureRevokesClaim(t *testing.T) {
	elig := NewMemoryEligibility()
	issuer := NewIssuer(brokenCrediter{}, elig, WithClock(fixedClock("2026-10-14T09:00:00Z")))
	ctx := context.Background()

	_, err := issuer.Grant(ctx, 1, SourceWheel, 20)
	require.Error(t, err)
	assert.True(t, balance.IsRetryable(err))

	claimed, err := elig.Claimed(ctx, 1, SourceWheel, "2026-10-14")
	require.NoError(t, err)
	assert.False(t, claimed)
}

// lostReply commits the first credit but reports a timeout, as when the
// response is lost on the way back.
type lostReply struct {
	*balance.MemoryStore
	calls int
}

func (l *lostReply) Credit(ctx context.Context, req balance.CreditRequest) (balance.Receipt, error) {
	l.calls++
	r, err := l.MemoryStore.Credit(ctx, req)
	if l.calls == 1 && err == nil {
		return balance.Receipt{}, balance.ErrTimeout
	}
	return r, err
}

type drawSeq []float64

func (d *drawSeq) Float64() float64 {
	v := (*d)[0]
	*d = (*d)[1:]
	return v
}

var smallOrBig = PrizeTable{
	{Label: "small", Amount: 10, Weight: 50},
	{Label: "big", Amount: 500, Weight: 50},
}

func TestSpin_RetryAfterLostReplyKeepsFirstPrize(t *testing.T) {
	store := &lostReply{MemoryStore: balance.NewMemoryStore()}
	draws := drawSeq{0.1, 0.9}
	var granted []Event
	issuer := NewIssuer(store, NewMemoryEligibility(),
		WithDrawer(&draws),
		WithClock(fixedClock("2026-10-14T09:00:00Z")),
		WithSink(SinkFunc(func(_ context.Context, ev Event) { granted = append(granted, ev) })))
	ctx := context.Background()

	_, err := issuer.Spin(ctx, 1, SourceWheel, smallOrBig)
	require.ErrorIs(t, err, balance.ErrTimeout)
	assert.Empty(t, granted)

	ev, err := issuer.Spin(ctx, 1, SourceWheel, smallOrBig)
	require.NoError(t, err)
	assert.Equal(t, "small", ev.Prize)
	assert.Equal(t, int64(10), ev.Amount)
	assert.Equal(t, int64(10), ev.Balance)
	require.Len(t, granted, 1)
	assert.Equal(t, ev, granted[0])

	bal, _ := store.Balance(ctx, 1)
	assert.Equal(t, int64(10), bal)

	_, err = issuer.Grant(ctx, 1, SourceWheel, 10)
	assert.ErrorIs(t, err, balance.ErrAlreadyClaimed)
}

func TestSpin_OtherInstanceAfterLostReplyIsAlreadyClaimed(t *testing.T) {
	store := &lostReply{MemoryStore: balance.NewMemoryStore()}
	elig := NewMemoryEligibility()
	clock := WithClock(fixedClock("2026-10-14T09:00:00Z"))
	ctx := context.Background()

	first := NewIssuer(store, elig, WithDrawer(FixedDraw(0.1)), clock)
	_, err := first.Spin(ctx, 1, SourceWheel, smallOrBig)
	require.ErrorIs(t, err, balance.ErrTimeout)

	second := NewIssuer(store, elig, WithDrawer(FixedDraw(0.9)), clock)
	_, err = second.Spin(ctx, 1, SourceWheel, smallOrBig)
	assert.ErrorIs(t, err, balance.ErrAlreadyClaimed)

	claimed, err := elig.Claimed(ctx, 1, SourceWheel, "2026-10-14")
	require.NoError(t, err)
	assert.True(t, claimed)

	bal, _ := store.Balance(ctx, 1)
	assert.Equal(t, int64(10), bal)
}

func TestSpin_DeterministicWithFixedDraw(t *testing.T) {
	table := PrizeTable{
		{Label: "5 coins", Amount: 5, Weight: 50},
		{Label: "20 coins", Amount: 20, Weight: 30},
		{Label: "100 coins", Amount: 100, Weight: 20},
	}
	for run := 0; run < 3; run++ {
		store := fundedStore(t, 100)
		issuer := NewIssuer(store, NewMemoryEligibility(),
			WithDrawer(FixedDraw(0.6)), WithClock(fixedClock("2026-10-14T09:00:00Z")))

		ev, err := issuer.Spin(context.Background(), 1, SourceWheel, table)
		require.NoError(t, err)
		assert.Equal(t, "20 coins", ev.Prize)
		assert.Equal(t, int64(120), ev.Balance)
	}
}

func TestSpin_ZeroPrizeConsumesClaim(t *testing.T) {
	store := fundedStore(t, 100)
	issuer := NewIssuer(store, NewMemoryEligibility(),
		WithDrawer(FixedDraw(0)), WithClock(fixedClock("2026-10-14T09:00:00Z")))
	table := PrizeTable{{Label: "try again", Amount: 0, Weight: 1}}

	ev, err := issuer.Spin(context.Background(), 1, SourceFortune, table)
	require.NoError(t, err)
	assert.Zero(t, ev.Amount)

	_, err = issuer.Spin(context.Background(), 1, SourceFortune, table)
	assert.ErrorIs(t, err, balance.ErrAlreadyClaimed)
}
