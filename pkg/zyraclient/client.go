// Package zyraclient is the Go client of the coin ledger HTTP API. Client
// implements balance.Debiter, so a gate.Dispatcher can run on top of it.
package zyraclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/reward"
	"flirtmarket/pkg/response"
)

// ErrUnauthorized is returned for a missing, expired or rejected token.
var ErrUnauthorized = balance.ErrUnauthorized

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken swaps the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = token }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call posts or gets path and decodes the envelope. Transport failures and
// 5xx statuses come back wrapped in balance.ErrService.
func (c *Client) call(ctx context.Context, method, path string, body interface{}) (*envelope, error) {
	rd := bytes.NewReader(nil)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", balance.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", balance.ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: http %d", balance.ErrService, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", balance.ErrService, err)
	}
	return &env, nil
}

// codeError maps a non-zero response code back onto the balance taxonomy.
func codeError(env *envelope) error {
	switch env.Code {
	case response.CodeInsufficientFunds:
		var d struct {
			Balance int64 `json:"balance"`
			Amount  int64 `json:"amount"`
		}
		_ = json.Unmarshal(env.Data, &d)
		return &balance.InsufficientFundsError{Balance: d.Balance, Amount: d.Amount}
	case response.CodeDuplicateRequest:
		return fmt.Errorf("%w: %s", balance.ErrRequestConflict, env.Message)
	case response.CodeAlreadyClaimed:
		return balance.ErrAlreadyClaimed
	case response.CodeTimeout:
		return fmt.Errorf("%w: %s", balance.ErrTimeout, env.Message)
	case response.CodeInvalidAmount:
		return fmt.Errorf("%w: %s", balance.ErrInvalidAmount, env.Message)
	case response.CodeParamError:
		return fmt.Errorf("%w: %s", balance.ErrInvalidRequest, env.Message)
	case response.CodeUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: code %d: %s", balance.ErrService, env.Code, env.Message)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	env, err := c.call(ctx, method, path, body)
	if err != nil {
		return err
	}
	if env.Code != response.CodeSuccess {
		return codeError(env)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", balance.ErrService, err)
	}
	return nil
}

type LoginResult struct {
	Token     string `json:"token"`
	AccountID int64  `json:"account_id"`
	Role      string `json:"role"`
	Balance   int64  `json:"balance"`
}

// Login trades Telegram init data for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, initData string) (LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/telegram", map[string]string{"init_data": initData}, &res)
	if err != nil {
		return LoginResult{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

func (c *Client) Balance(ctx context.Context) (int64, error) {
	var res struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/account/balance", nil, &res); err != nil {
		return 0, err
	}
	return res.Balance, nil
}

// Debit unlocks req.ContentID for req.Amount. The account comes from the
// token; req.AccountID is ignored by the server.
func (c *Client) Debit(ctx context.Context, req balance.DebitRequest) (balance.Receipt, error) {
	var res struct {
		Balance         int64  `json:"balance"`
		Charged         int64  `json:"charged"`
		EntryNo         string `json:"entry_no"`
		AlreadyUnlocked bool   `json:"already_unlocked"`
		Replayed        bool   `json:"replayed"`
	}
	body := map[string]interface{}{
		"request_id": req.RequestID,
		"content_id": req.ContentID,
		"amount":     req.Amount,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/unlocks", body, &res); err != nil {
		return balance.Receipt{}, err
	}
	return balance.Receipt{
		AccountID:       req.AccountID,
		Balance:         res.Balance,
		Amount:          res.Charged,
		EntryNo:         res.EntryNo,
		AlreadyUnlocked: res.AlreadyUnlocked,
		Replayed:        res.Replayed,
	}, nil
}

func (c *Client) ClaimReward(ctx context.Context, source string) (reward.Event, error) {
	var ev reward.Event
	err := c.do(ctx, http.MethodPost, "/api/v1/rewards/"+url.PathEscape(source)+"/claim", nil, &ev)
	return ev, err
}

var _ balance.Debiter = (*Client)(nil)
