package handler

import (
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MerchantHandler serves the merchant directory.
type MerchantHandler struct {
	merchantRepo ports.MerchantRepository
}

// NewMerchantHandler creates a new MerchantHandler.
func NewMerchantHandler(merchantRepo ports.MerchantRepository) *MerchantHandler {
	return &MerchantHandler{merchantRepo: merchantRepo}
}

// Get handles GET /api/v1/merchants/:id.
func (h *MerchantHandler) Get(c *gin.Context) {
	merchantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Merchant"))
		return
	}

	merchant, err := h.merchantRepo.GetByID(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	if merchant == nil {
		response.Error(c, apperror.ErrNotFound("Merchant"))
		return
	}

	response.OK(c, merchant.Summary())
}
