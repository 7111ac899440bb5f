package zyraclient_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flirtmarket/internal/auth"
	"flirtmarket/internal/balance"
	"flirtmarket/internal/gate"
	"flirtmarket/internal/handler"
	"flirtmarket/internal/mirror"
	"flirtmarket/internal/realtime"
	"flirtmarket/internal/reward"
	"flirtmarket/internal/service"
	"flirtmarket/internal/telegram"
	"flirtmarket/pkg/zyraclient"
)

type server struct {
	url    string
	store  *balance.MemoryStore
	tokens *auth.Issuer
}

func newServer(t *testing.T) server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := balance.NewMemoryStore()
	tokens := auth.NewIssuer("secret", time.Hour)
	h := handler.NewHandler(handler.Deps{
		Store:      store,
		Directory:  service.NewMemoryDirectory(),
		Pricer:     service.NewPricer(map[string]int64{"secret_message": 30}),
		Dispatcher: gate.NewDispatcher(store, gate.WithLogger(log)),
		Issuer:     reward.NewIssuer(store, reward.NewMemoryEligibility(), reward.WithDrawer(reward.FixedDraw(0))),
		Tables: map[string]reward.PrizeTable{
			reward.SourceFortune: {{Label: "10 coins", Amount: 10, Weight: 1}},
		},
		Validator: telegram.NewValidator("bot", time.Hour),
		Tokens:    tokens,
		Hub:       realtime.NewHub(),
		Logger:    log,
	})
	srv := httptest.NewServer(handler.SetupRouter(h, gin.TestMode))
	t.Cleanup(srv.Close)
	return server{url: srv.URL, store: store, tokens: tokens}
}

func (s server) client(t *testing.T, account int64, funds int64) *zyraclient.Client {
	t.Helper()
	if funds > 0 {
		_, err := s.store.Credit(context.Background(), balance.CreditRequest{AccountID: account, Amount: funds, RequestID: "seed"})
		require.NoError(t, err)
	}
	tok, err := s.tokens.Issue(auth.Identity{AccountID: account, Role: auth.RoleRegular})
	require.NoError(t, err)
	return zyraclient.New(s.url, zyraclient.WithToken(tok))
}

func TestGateOverHTTP(t *testing.T) {
	s := newServer(t)
	c := s.client(t, 7, 100)
	ctx := context.Background()

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	m := mirror.New(bal)

	g := gate.New(gate.Content{ID: "secret_message:42", Cost: 30}, gate.NewDispatcher(c), m)
	out, err := g.AttemptUnlock(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30), out.Charged)
	assert.Equal(t, gate.Unlocked, g.State())
	assert.Equal(t, int64(70), m.Display())

	// a fresh gate for the same content finds it already paid for
	again := gate.New(gate.Content{ID: "secret_message:42", Cost: 30}, gate.NewDispatcher(c), m)
	out, err = again.AttemptUnlock(ctx, 7)
	require.NoError(t, err)
	assert.True(t, out.AlreadyUnlocked)

	got, _ := s.store.Balance(ctx, 7)
	assert.Equal(t, int64(70), got)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	s := newServer(t)
	c := s.client(t, 7, 20)

	_, err := c.Debit(context.Background(), balance.DebitRequest{AccountID: 7, Amount: 30, RequestID: "r", ContentID: "secret_message:1"})
	var insufficient *balance.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(10), insufficient.Owed())
}

func TestDebit_ReusedRequestIDConflicts(t *testing.T) {
	s := newServer(t)
	c := s.client(t, 7, 100)
	ctx := context.Background()

	_, err := c.Debit(ctx, balance.DebitRequest{AccountID: 7, Amount: 30, RequestID: "r", ContentID: "secret_message:1"})
	require.NoError(t, err)

	_, err = c.Debit(ctx, balance.DebitRequest{AccountID: 7, Amount: 30, RequestID: "r", ContentID: "secret_message:2"})
	assert.ErrorIs(t, err, balance.ErrRequestConflict)
	assert.False(t, balance.IsRetryable(err))

	got, _ := s.store.Balance(ctx, 7)
	assert.Equal(t, int64(70), got)
}

func TestClaimReward(t *testing.T) {
	s := newServer(t)
	c := s.client(t, 7, 1)
	ctx := context.Background()

	ev, err := c.ClaimReward(ctx, reward.SourceFortune)
	require.NoError(t, err)
	assert.Equal(t, int64(11), ev.Balance)

	_, err = c.ClaimReward(ctx, reward.SourceFortune)
	assert.ErrorIs(t, err, balance.ErrAlreadyClaimed)
}

func TestUnauthorized(t *testing.T) {
	s := newServer(t)
	_, err := zyraclient.New(s.url).Balance(context.Background())
	assert.ErrorIs(t, err, zyraclient.ErrUnauthorized)
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := zyraclient.New(srv.URL, zyraclient.WithToken("t")).Debit(context.Background(),
		balance.DebitRequest{AccountID: 1, Amount: 1, RequestID: "r", ContentID: "secret_message:1"})
	assert.True(t, balance.IsRetryable(err))
}

func TestTimeoutThroughDispatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := zyraclient.New(srv.URL, zyraclient.WithToken("t"))
	d := gate.NewDispatcher(c, gate.WithTimeout(50*time.Millisecond),
		gate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := d.Dispatch(context.Background(), &gate.SpendAttempt{ContentID: "secret_message:1", AccountID: 1, Amount: 1})
	assert.ErrorIs(t, err, balance.ErrTimeout)
}
