package handler

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"flirtmarket/internal/auth"
	"flirtmarket/internal/balance"
	"flirtmarket/internal/gate"
	"flirtmarket/internal/realtime"
	"flirtmarket/internal/reward"
	"flirtmarket/internal/service"
	"flirtmarket/internal/telegram"
	"flirtmarket/pkg/response"
)

// Deps are the collaborators the HTTP layer needs. Store, Directory and
// Eligibility (inside Issuer) switch between MySQL and memory by config.
type Deps struct {
	Store       balance.Store
	Directory   service.Directory
	Pricer      *service.Pricer
	Dispatcher  *gate.Dispatcher
	Issuer      *reward.Issuer
	Tables      map[string]reward.PrizeTable
	Validator   *telegram.Validator
	Tokens      *auth.Issuer
	Hub         *realtime.Hub
	InternalKey string
	Logger      *slog.Logger
}

type Handler struct {
	Deps
	log *slog.Logger
}

func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Deps: d, log: log}
}

func (h *Handler) identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
	}
	return id, ok
}

// ============================================================
// Auth
// ============================================================

type TelegramLoginRequest struct {
	InitData string `json:"init_data" binding:"required"`
}

// TelegramLogin exchanges signed Web App init data for a bearer token.
// POST /api/v1/auth/telegram
func (h *Handler) TelegramLogin(c *gin.Context) {
	var req TelegramLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	data, err := h.Validator.Validate(req.InitData)
	if err != nil {
		h.log.Warn("telegram init data rejected", "err", err)
		response.Unauthorized(c, "invalid init data")
		return
	}

	ctx := c.Request.Context()
	role, err := h.Directory.Ensure(ctx, data.User.ID, data.User.DisplayName())
	if err != nil {
		h.log.Error("ensure account", "user_id", data.User.ID, "err", err)
		response.ServerError(c, "account unavailable")
		return
	}
	token, err := h.Tokens.Issue(auth.Identity{AccountID: data.User.ID, Role: role})
	if err != nil {
		response.ServerError(c, "token unavailable")
		return
	}
	bal, err := h.Store.Balance(ctx, data.User.ID)
	if err != nil {
		response.ServerError(c, "balance unavailable")
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"account_id": data.User.ID,
		"role":       role,
		"balance":    bal,
	})
}

// ============================================================
// Account
// ============================================================

// GetBalance returns the caller's authoritative balance.
// GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	bal, err := h.Store.Balance(c.Request.Context(), id.AccountID)
	if err != nil {
		h.log.Error("load balance", "account_id", id.AccountID, "err", err)
		response.ServerError(c, "balance unavailable")
		return
	}
	response.Success(c, gin.H{
		"account_id": id.AccountID,
		"balance":    bal,
	})
}

// ============================================================
// Unlocks
// ============================================================

type UnlockRequest struct {
	RequestID string `json:"request_id" binding:"required,max=128"`
	ContentID string `json:"content_id" binding:"required,max=128"`
	Amount    int64  `json:"amount" binding:"min=0"`
}

type UnlockResponse struct {
	ContentID       string `json:"content_id"`
	Balance         int64  `json:"balance"`
	Charged         int64  `json:"charged"`
	EntryNo         string `json:"entry_no,omitempty"`
	AlreadyUnlocked bool   `json:"already_unlocked"`
	Replayed        bool   `json:"replayed"`
}

// Unlock debits the caller for one piece of gated content.
// POST /api/v1/unlocks
//
// The amount must equal the configured price so a stale client never pays a
// different price than it showed. A repeated request_id replays the first
// receipt; an already unlocked content is never charged again.
func (h *Handler) Unlock(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if id.Role != auth.RoleRegular {
		response.Error(c, response.CodeForbidden, "only regular users unlock content")
		return
	}

	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	contentID, err := service.NormalizeContentID(req.ContentID)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	price, err := h.Pricer.Price(contentID)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if req.Amount != price {
		response.ErrorWithData(c, response.CodeInvalidAmount, "amount does not match price", gin.H{
			"price": price,
		})
		return
	}

	attempt := &gate.SpendAttempt{
		ContentID: contentID,
		AccountID: id.AccountID,
		Amount:    price,
		RequestID: req.RequestID,
	}
	receipt, err := h.Dispatcher.Dispatch(c.Request.Context(), attempt)
	if err != nil {
		h.writeDebitError(c, err)
		return
	}

	charged := int64(0)
	if !receipt.AlreadyUnlocked {
		charged = receipt.Amount
	}
	if charged > 0 && !receipt.Replayed {
		h.Hub.Publish(realtime.BalanceEvent{
			AccountID: id.AccountID,
			Balance:   receipt.Balance,
			Delta:     -charged,
			Reason:    "unlock:" + contentID,
		})
	}

	response.Success(c, UnlockResponse{
		ContentID:       contentID,
		Balance:         receipt.Balance,
		Charged:         charged,
		EntryNo:         receipt.EntryNo,
		AlreadyUnlocked: receipt.AlreadyUnlocked,
		Replayed:        receipt.Replayed,
	})
}

func (h *Handler) writeDebitError(c *gin.Context, err error) {
	var insufficient *balance.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, response.CodeInsufficientFunds, "insufficient funds", gin.H{
			"balance": insufficient.Balance,
			"amount":  insufficient.Amount,
			"owed":    insufficient.Owed(),
		})
	case errors.Is(err, balance.ErrRequestConflict):
		response.Error(c, response.CodeDuplicateRequest, "request_id already used for a different unlock")
	case errors.Is(err, balance.ErrTimeout):
		response.Error(c, response.CodeTimeout, "balance service timed out, retry with the same request_id")
	case errors.Is(err, balance.ErrInvalidAmount), errors.Is(err, balance.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	default:
		response.Error(c, response.CodeUnlockFailed, "unlock failed, retry with the same request_id")
	}
}

// ============================================================
// Rewards
// ============================================================

// ClaimReward spins the source's prize table for today's claim.
// POST /api/v1/rewards/:source/claim
func (h *Handler) ClaimReward(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if id.Role != auth.RoleRegular {
		response.Error(c, response.CodeForbidden, "only regular users claim rewards")
		return
	}

	source := c.Param("source")
	table, ok := h.Tables[source]
	if !ok {
		response.Error(c, response.CodeNotFound, "unknown reward source")
		return
	}

	ev, err := h.Issuer.Spin(c.Request.Context(), id.AccountID, source, table)
	switch {
	case errors.Is(err, balance.ErrAlreadyClaimed):
		response.Error(c, response.CodeAlreadyClaimed, "reward already claimed today")
		return
	case err != nil:
		h.log.Error("reward spin", "account_id", id.AccountID, "source", source, "err", err)
		response.Error(c, response.CodeServerError, "reward unavailable, try again")
		return
	}
	response.Success(c, ev)
}

// ============================================================
// Internal
// ============================================================

type CreditRequest struct {
	RequestID string `json:"request_id" binding:"required,max=128"`
	AccountID int64  `json:"account_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Remark    string `json:"remark" binding:"max=256"`
}

// InternalCredit tops an account up after a confirmed coin purchase.
// POST /internal/v1/credit
func (h *Handler) InternalCredit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	receipt, err := h.Store.Credit(c.Request.Context(), balance.CreditRequest{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		RequestID: req.RequestID,
		Type:      balance.EntryCredit,
		Remark:    req.Remark,
	})
	if err != nil {
		if errors.Is(err, balance.ErrRequestConflict) {
			response.Error(c, response.CodeDuplicateRequest, "request_id already used for a different credit")
			return
		}
		if errors.Is(err, balance.ErrInvalidAmount) || errors.Is(err, balance.ErrInvalidRequest) {
			response.ParamError(c, err.Error())
			return
		}
		h.log.Error("credit", "account_id", req.AccountID, "request_id", req.RequestID, "err", err)
		response.ServerError(c, "credit failed")
		return
	}

	if !receipt.Replayed {
		h.Hub.Publish(realtime.BalanceEvent{
			AccountID: req.AccountID,
			Balance:   receipt.Balance,
			Delta:     receipt.Amount,
			Reason:    "purchase",
		})
	}
	response.Success(c, receipt)
}
