package handler

import (
	"strconv"
	"time"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WalletHandler handles wallet state, history and guard endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// GetWallet handles GET /api/v1/wallet.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	snap, err := h.walletSvc.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletResponse(snap))
}

// History handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) History(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	params := ports.TransactionListParams{UserID: userID}
	params.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	params.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}
	if ty := c.Query("type"); ty != "" {
		txType := domain.TransactionType(ty)
		params.Type = &txType
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			response.Error(c, apperror.Validation("invalid 'from' timestamp"))
			return
		}
		params.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			response.Error(c, apperror.Validation("invalid 'to' timestamp"))
			return
		}
		params.To = &t
	}

	txns, total, err := h.walletSvc.History(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.HistoryResponse{
		Transactions: make([]dto.TransactionResponse, 0, len(txns)),
		Total:        total,
		Page:         params.Page,
		PageSize:     params.PageSize,
	}
	if resp.Page < 1 {
		resp.Page = 1
	}
	if resp.PageSize < 1 || resp.PageSize > 100 {
		resp.PageSize = 20
	}
	for i := range txns {
		resp.Transactions = append(resp.Transactions, dto.NewTransactionResponse(&txns[i]))
	}

	response.OK(c, resp)
}

// Stats handles GET /api/v1/wallet/stats.
func (h *WalletHandler) Stats(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	stats, err := h.walletSvc.Stats(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewStatsResponse(stats))
}

// Lock handles POST /api/v1/wallet/lock.
func (h *WalletHandler) Lock(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	var req dto.LockWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	var duration *time.Duration
	if req.DurationMinutes != nil {
		d := time.Duration(*req.DurationMinutes) * time.Minute
		duration = &d
	}

	wallet, err := h.walletSvc.Lock(c.Request.Context(), userID, req.Reason, duration)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletStateResponse(wallet))
}

// RequestUnlock handles POST /api/v1/wallet/unlock/request.
func (h *WalletHandler) RequestUnlock(c *gin.Context) {
	userID, phone, ok := identity(c)
	if !ok {
		return
	}

	challengeID, err := h.walletSvc.RequestUnlock(c.Request.Context(), userID, phone)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ChallengeResponse{ChallengeID: challengeID})
}

// Unlock handles POST /api/v1/wallet/unlock.
func (h *WalletHandler) Unlock(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	var req dto.UnlockWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallet, err := h.walletSvc.Unlock(c.Request.Context(), userID, req.ChallengeID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletStateResponse(wallet))
}

// Freeze handles POST /api/v1/wallet/freeze.
func (h *WalletHandler) Freeze(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	var req dto.FreezeWalletRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	wallet, err := h.walletSvc.EmergencyFreeze(c.Request.Context(), userID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletStateResponse(wallet))
}

// RequestLimitChange handles POST /api/v1/wallet/limit/request.
func (h *WalletHandler) RequestLimitChange(c *gin.Context) {
	userID, phone, ok := identity(c)
	if !ok {
		return
	}

	var req dto.RequestLimitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	newLimit, err := decimal.NewFromString(req.NewLimit)
	if err != nil {
		response.Error(c, apperror.Validation("invalid limit"))
		return
	}

	challengeID, err := h.walletSvc.RequestLimitChange(c.Request.Context(), userID, phone, newLimit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ChallengeResponse{ChallengeID: challengeID})
}

// SetLimit handles PUT /api/v1/wallet/limit.
func (h *WalletHandler) SetLimit(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	var req dto.SetLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	newLimit, err := decimal.NewFromString(req.NewLimit)
	if err != nil {
		response.Error(c, apperror.Validation("invalid limit"))
		return
	}

	wallet, err := h.walletSvc.SetDailyLimit(c.Request.Context(), userID, req.ChallengeID, req.Code, newLimit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletStateResponse(wallet))
}
