package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionHandler handles the transaction state machine and offline
// sync endpoints.
type TransactionHandler struct {
	settlementSvc ports.SettlementService
	syncSvc       ports.SyncService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(settlementSvc ports.SettlementService, syncSvc ports.SyncService) *TransactionHandler {
	return &TransactionHandler{settlementSvc: settlementSvc, syncSvc: syncSvc}
}

// identity pulls the authenticated user from the request context.
func identity(c *gin.Context) (uuid.UUID, string, bool) {
	uid, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, "", false
	}
	phone, _ := c.Get(middleware.CtxPhone)
	phoneStr, _ := phone.(string)
	return uid.(uuid.UUID), phoneStr, true
}

// Initiate handles POST /api/v1/transactions.
func (h *TransactionHandler) Initiate(c *gin.Context) {
	userID, phone, ok := identity(c)
	if !ok {
		return
	}

	var req dto.InitiateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	// Validated by binding tags; parses cannot fail here.
	idempotencyKey := uuid.MustParse(req.IdempotencyKey)
	merchantID := uuid.MustParse(req.MerchantID)
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	result, err := h.settlementSvc.Initiate(c.Request.Context(), ports.InitiateRequest{
		UserID:         userID,
		Phone:          phone,
		IdempotencyKey: idempotencyKey,
		MerchantID:     merchantID,
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.InitiateTransactionResponse{
		Transaction:          dto.NewTransactionResponse(result.Transaction),
		Merchant:             result.Merchant,
		ChallengeID:          result.ChallengeID,
		ConfirmationRequired: result.ConfirmationRequired,
	}
	response.Created(c, resp)
}

// Confirm handles POST /api/v1/transactions/:id/confirm.
func (h *TransactionHandler) Confirm(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrTransactionNotFound())
		return
	}

	var req dto.ConfirmTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.settlementSvc.Confirm(c.Request.Context(), userID, transactionID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ConfirmTransactionResponse{
		Transaction: dto.NewTransactionResponse(result.Transaction),
		NewBalance:  result.NewBalance.StringFixed(2),
	})
}

// Cancel handles POST /api/v1/transactions/:id/cancel.
func (h *TransactionHandler) Cancel(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrTransactionNotFound())
		return
	}

	var req dto.CancelTransactionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	txn, err := h.settlementSvc.Cancel(c.Request.Context(), userID, transactionID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewTransactionResponse(txn))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrTransactionNotFound())
		return
	}

	txn, err := h.settlementSvc.Get(c.Request.Context(), userID, transactionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewTransactionResponse(txn))
}

// Sync handles POST /api/v1/transactions/sync.
func (h *TransactionHandler) Sync(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}

	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	items := make([]ports.SyncItem, 0, len(req.Transactions))
	for _, item := range req.Transactions {
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			response.Error(c, apperror.ErrInvalidAmount())
			return
		}
		items = append(items, ports.SyncItem{
			IdempotencyKey: uuid.MustParse(item.IdempotencyKey),
			MerchantID:     uuid.MustParse(item.MerchantID),
			Amount:         amount,
			Currency:       item.Currency,
			Description:    item.Description,
			CreatedAt:      item.CreatedAt,
		})
	}

	summary, err := h.syncSvc.SyncBatch(c.Request.Context(), userID, items)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSyncResponse(summary))
}
