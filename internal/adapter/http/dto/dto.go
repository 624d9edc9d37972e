package dto

import (
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
)

// RequestLoginRequest starts a phone-number login.
type RequestLoginRequest struct {
	Phone string `json:"phone" binding:"required,phone"`
}

// VerifyLoginRequest completes a login with the delivered OTP code.
type VerifyLoginRequest struct {
	Phone       string `json:"phone" binding:"required,phone"`
	ChallengeID string `json:"challenge_id" binding:"required,safe_id"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
}

// ChallengeResponse returns the challenge the client must answer.
type ChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
}

// LoginResponse carries the access token after a verified login.
type LoginResponse struct {
	Token string `json:"token"`
}

// InitiateTransactionRequest starts a payment.
type InitiateTransactionRequest struct {
	IdempotencyKey string  `json:"idempotency_key" binding:"required,uuid"`
	MerchantID     string  `json:"merchant_id" binding:"required,uuid"`
	Amount         string  `json:"amount" binding:"required,money"`
	Currency       string  `json:"currency" binding:"required,len=3"`
	Description    string  `json:"description" binding:"max=255"`
	Metadata       *string `json:"metadata,omitempty"`
}

// ConfirmTransactionRequest settles a pending payment with its OTP code.
type ConfirmTransactionRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// CancelTransactionRequest aborts a pending payment.
type CancelTransactionRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// SyncItemRequest is one offline transaction in a sync batch.
type SyncItemRequest struct {
	IdempotencyKey string    `json:"idempotency_key" binding:"required,uuid"`
	MerchantID     string    `json:"merchant_id" binding:"required,uuid"`
	Amount         string    `json:"amount" binding:"required,money"`
	Currency       string    `json:"currency" binding:"required,len=3"`
	Description    string    `json:"description" binding:"max=255"`
	CreatedAt      time.Time `json:"created_at" binding:"required"`
}

// SyncRequest replays transactions recorded while offline.
type SyncRequest struct {
	Transactions []SyncItemRequest `json:"transactions" binding:"required,min=1,max=100,dive"`
}

// SyncItemResponse reports the outcome of one replayed item.
type SyncItemResponse struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Status         string  `json:"status"`
	TransactionID  *string `json:"transaction_id,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// SyncResponse summarizes a sync batch.
type SyncResponse struct {
	Total      int                `json:"total"`
	Synced     int                `json:"synced"`
	Duplicates int                `json:"duplicates"`
	Failed     int                `json:"failed"`
	Results    []SyncItemResponse `json:"results"`
}

// LockWalletRequest locks the wallet, optionally for a duration.
type LockWalletRequest struct {
	Reason          string `json:"reason" binding:"required,max=255"`
	DurationMinutes *int   `json:"duration_minutes,omitempty" binding:"omitempty,gt=0"`
}

// UnlockWalletRequest clears a lock with OTP proof.
type UnlockWalletRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required,safe_id"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
}

// FreezeWalletRequest hard-locks the wallet.
type FreezeWalletRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// RequestLimitChangeRequest starts an OTP-guarded limit change.
type RequestLimitChangeRequest struct {
	NewLimit string `json:"new_limit" binding:"required,money"`
}

// SetLimitRequest applies the approved limit with OTP proof.
type SetLimitRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required,safe_id"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
	NewLimit    string `json:"new_limit" binding:"required,money"`
}

// TransactionResponse is the wire form of a transaction.
type TransactionResponse struct {
	ID             string  `json:"id"`
	IdempotencyKey string  `json:"idempotency_key"`
	MerchantID     string  `json:"merchant_id"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	Type           string  `json:"type"`
	Description    string  `json:"description,omitempty"`
	FailureReason  *string `json:"failure_reason,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ConfirmedAt    *string `json:"confirmed_at,omitempty"`
	SyncedAt       *string `json:"synced_at,omitempty"`
}

// InitiateTransactionResponse is returned from transaction initiation.
type InitiateTransactionResponse struct {
	Transaction          TransactionResponse     `json:"transaction"`
	Merchant             *domain.MerchantSummary `json:"merchant,omitempty"`
	ChallengeID          string                  `json:"challenge_id,omitempty"`
	ConfirmationRequired bool                    `json:"confirmation_required"`
}

// ConfirmTransactionResponse is returned from a settled payment.
type ConfirmTransactionResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	NewBalance  string              `json:"new_balance"`
}

// WalletResponse is the wire form of the wallet snapshot.
type WalletResponse struct {
	UserID         string  `json:"user_id"`
	Balance        string  `json:"balance"`
	Currency       string  `json:"currency"`
	DailyLimit     string  `json:"daily_limit"`
	SpentToday     string  `json:"spent_today"`
	RemainingToday string  `json:"remaining_today"`
	IsLocked       bool    `json:"is_locked"`
	LockReason     *string `json:"lock_reason,omitempty"`
	LockedUntil    *string `json:"locked_until,omitempty"`
	Emergency      bool    `json:"emergency"`
}

// WalletStateResponse is the wire form of the wallet after a guard
// operation; no spend aggregates are recomputed.
type WalletStateResponse struct {
	UserID      string  `json:"user_id"`
	Balance     string  `json:"balance"`
	Currency    string  `json:"currency"`
	DailyLimit  string  `json:"daily_limit"`
	IsLocked    bool    `json:"is_locked"`
	LockReason  *string `json:"lock_reason,omitempty"`
	LockedUntil *string `json:"locked_until,omitempty"`
	Emergency   bool    `json:"emergency"`
}

// HistoryResponse is a paginated transaction listing.
type HistoryResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
}

// StatsResponse aggregates transaction statistics.
type StatsResponse struct {
	TotalTransactions int64  `json:"total_transactions"`
	Pending           int64  `json:"pending"`
	Confirmed         int64  `json:"confirmed"`
	Failed            int64  `json:"failed"`
	Cancelled         int64  `json:"cancelled"`
	Synced            int64  `json:"synced"`
	SpentToday        string `json:"spent_today"`
	SpentThisWeek     string `json:"spent_this_week"`
	SpentThisMonth    string `json:"spent_this_month"`
}

// NewTransactionResponse converts a domain transaction to its wire form.
func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:             t.ID.String(),
		IdempotencyKey: t.IdempotencyKey.String(),
		MerchantID:     t.MerchantID.String(),
		Amount:         t.Amount.StringFixed(2),
		Currency:       t.Currency,
		Status:         string(t.Status),
		Type:           string(t.Type),
		Description:    t.Description,
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.ConfirmedAt != nil {
		s := t.ConfirmedAt.UTC().Format(time.RFC3339)
		resp.ConfirmedAt = &s
	}
	if t.SyncedAt != nil {
		s := t.SyncedAt.UTC().Format(time.RFC3339)
		resp.SyncedAt = &s
	}
	return resp
}

// NewWalletResponse converts a wallet snapshot to its wire form.
func NewWalletResponse(snap *ports.WalletSnapshot) WalletResponse {
	w := snap.Wallet
	resp := WalletResponse{
		UserID:         w.UserID.String(),
		Balance:        w.Balance.StringFixed(2),
		Currency:       w.Currency,
		DailyLimit:     w.DailyLimit.StringFixed(2),
		SpentToday:     snap.SpentToday.StringFixed(2),
		RemainingToday: snap.RemainingToday.StringFixed(2),
		IsLocked:       w.IsLocked,
		LockReason:     w.LockReason,
		Emergency:      w.Emergency,
	}
	if w.LockedUntil != nil {
		s := w.LockedUntil.UTC().Format(time.RFC3339)
		resp.LockedUntil = &s
	}
	return resp
}

// NewWalletStateResponse converts a wallet to its wire form.
func NewWalletStateResponse(w *domain.Wallet) WalletStateResponse {
	resp := WalletStateResponse{
		UserID:     w.UserID.String(),
		Balance:    w.Balance.StringFixed(2),
		Currency:   w.Currency,
		DailyLimit: w.DailyLimit.StringFixed(2),
		IsLocked:   w.IsLocked,
		LockReason: w.LockReason,
		Emergency:  w.Emergency,
	}
	if w.LockedUntil != nil {
		s := w.LockedUntil.UTC().Format(time.RFC3339)
		resp.LockedUntil = &s
	}
	return resp
}

// NewSyncResponse converts a sync summary to its wire form.
func NewSyncResponse(summary *ports.SyncSummary) SyncResponse {
	resp := SyncResponse{
		Total:      summary.Total,
		Synced:     summary.Synced,
		Duplicates: summary.Duplicates,
		Failed:     summary.Failed,
		Results:    make([]SyncItemResponse, 0, len(summary.Results)),
	}
	for _, r := range summary.Results {
		item := SyncItemResponse{
			IdempotencyKey: r.IdempotencyKey.String(),
			Status:         string(r.Status),
			Reason:         r.Reason,
		}
		if r.TransactionID != nil {
			s := r.TransactionID.String()
			item.TransactionID = &s
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

// NewStatsResponse converts wallet stats to their wire form.
func NewStatsResponse(stats *ports.WalletStats) StatsResponse {
	return StatsResponse{
		TotalTransactions: stats.TotalTransactions,
		Pending:           stats.Pending,
		Confirmed:         stats.Confirmed,
		Failed:            stats.Failed,
		Cancelled:         stats.Cancelled,
		Synced:            stats.Synced,
		SpentToday:        stats.SpentToday.StringFixed(2),
		SpentThisWeek:     stats.SpentThisWeek.StringFixed(2),
		SpentThisMonth:    stats.SpentThisMonth.StringFixed(2),
	}
}
